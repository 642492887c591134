package fedreg

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/angelmondragon/sorn-tracker/pkg/db/models"
	pkgerrors "github.com/angelmondragon/sorn-tracker/pkg/errors"
)

const (
	documentTypeSORN  = "Privacy Act System of Records Notice"
	commentWindowDays = 30
	effectiveDays     = 40
)

// SubmitPayload is the POST /documents body. Field order matches the order
// in which missing fields are reported.
type SubmitPayload struct {
	Title             string     `json:"title" validate:"required"`
	AgencyID          string     `json:"agency_id" validate:"required"`
	DocumentType      string     `json:"document_type" validate:"required"`
	Abstract          string     `json:"abstract" validate:"required"`
	Dates             *Dates     `json:"dates" validate:"required"`
	Addresses         *Addresses `json:"addresses" validate:"required"`
	Contact           *Contact   `json:"contact" validate:"required"`
	SupplementaryInfo string     `json:"supplementary_info" validate:"required"`
	Type              string     `json:"type,omitempty"`
	Action            string     `json:"action,omitempty"`
	Matter            string     `json:"matter,omitempty"`
}

type Dates struct {
	Comments  CommentDates `json:"comments"`
	Effective string       `json:"effective"`
}

type CommentDates struct {
	Deadline string `json:"deadline"`
}

type Addresses struct {
	Comments CommentInstructions `json:"comments"`
}

type CommentInstructions struct {
	Instructions string          `json:"instructions"`
	Methods      []CommentMethod `json:"methods"`
}

type CommentMethod struct {
	Type    string `json:"type"`
	URL     string `json:"url,omitempty"`
	Address string `json:"address,omitempty"`
}

type Contact struct {
	Name  string `json:"name"`
	Title string `json:"title"`
	Phone string `json:"phone"`
	Email string `json:"email"`
	Fax   string `json:"fax"`
}

type payloadValidator struct {
	v *validator.Validate
}

func newPayloadValidator() *payloadValidator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		tag := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if tag == "" {
			return f.Name
		}
		return tag
	})
	return &payloadValidator{v: v}
}

func (p *payloadValidator) check(payload SubmitPayload) error {
	err := p.v.Struct(payload)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		field := fieldErrs[0].Field()
		return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Missing required field: %s", field)).
			WithDetails(map[string]any{"field": field})
	}
	return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid submission payload")
}

// supplementarySections maps the numbered notice sections to SORN metadata keys.
var supplementarySections = []struct {
	title string
	key   string
	fixed string
}{
	{title: "I. Background", key: "background"},
	{title: "II. Privacy Act", fixed: "This notice is given pursuant to the Privacy Act of 1974, as amended (5 U.S.C. 552a)."},
	{title: "III. System Name and Number"},
	{title: "IV. Security Classification", key: "security_classification"},
	{title: "V. System Location", key: "system_location"},
	{title: "VI. Categories of Individuals", key: "categories"},
	{title: "VII. Categories of Records", key: "record_categories"},
	{title: "VIII. Record Source Categories", key: "record_sources"},
	{title: "IX. Routine Uses", key: "routine_uses"},
	{title: "X. Storage", key: "storage"},
	{title: "XI. Retrievability", key: "retrievability"},
	{title: "XII. Safeguards", key: "safeguards"},
	{title: "XIII. Retention and Disposal", key: "retention"},
	{title: "XIV. System Manager", key: "system_manager"},
	{title: "XV. Notification Procedure", key: "notification_procedures"},
	{title: "XVI. Record Access Procedures", key: "access_procedures"},
	{title: "XVII. Contesting Record Procedures", key: "contesting_procedures"},
	{title: "XVIII. Exemptions Promulgated", key: "exemptions"},
}

var tagPattern = regexp.MustCompile(`<[^>]*>`)

// BuildSubmitPayload turns a SORN into a submission body dated relative to now.
func BuildSubmitPayload(sorn models.Sorn, now time.Time) SubmitPayload {
	meta := metadataReader(sorn.Metadata)

	agency := sorn.AgencyID
	if agency == "" {
		agency = meta.str("agency")
	}
	classification := meta.str("security_classification")
	if classification == "" {
		classification = "Unclassified"
	}
	systemLine := systemNameLine(meta, sorn.Title)

	var sections []string
	for _, section := range supplementarySections {
		body := section.fixed
		switch {
		case section.title == "III. System Name and Number":
			body = systemLine
		case section.key == "security_classification":
			body = classification
		case section.key != "":
			body = meta.str(section.key)
		}
		body = stripTags(body)
		if strings.TrimSpace(body) == "" {
			continue
		}
		sections = append(sections, section.title+"\n\n"+body)
	}
	supplementary := strings.Join(sections, "\n\n")

	abstract := meta.str("abstract")
	if abstract == "" {
		abstract = strings.TrimSpace(stripTags(sorn.Excerpt))
	}
	if abstract == "" && meta.str("purpose") != "" {
		abstract = fmt.Sprintf(
			"In accordance with the Privacy Act of 1974, as amended, %s proposes to establish a new system of records titled, %q. This system of records maintains information %s.",
			agency, sorn.Title, stripTags(meta.str("purpose")),
		)
	}

	now = now.UTC()
	return SubmitPayload{
		Title:        sorn.Title,
		Type:         "NOTICE",
		AgencyID:     agency,
		DocumentType: documentTypeSORN,
		Abstract:     abstract,
		Dates: &Dates{
			Comments:  CommentDates{Deadline: now.AddDate(0, 0, commentWindowDays).Format(time.DateOnly)},
			Effective: now.AddDate(0, 0, effectiveDays).Format(time.DateOnly),
		},
		Addresses: &Addresses{
			Comments: CommentInstructions{
				Instructions: "You may submit comments, identified by docket number [AGENCY-YEAR-####], by any of the following methods:",
				Methods: []CommentMethod{
					{Type: "web", URL: "https://www.regulations.gov"},
					{Type: "mail", Address: meta.str("agency_address")},
				},
			},
		},
		Contact: &Contact{
			Name:  meta.str("contact_name"),
			Title: meta.str("contact_title"),
			Phone: meta.str("contact_phone"),
			Email: meta.str("contact_email"),
			Fax:   meta.str("contact_fax"),
		},
		SupplementaryInfo: supplementary,
		Action:            "Notice of a New System of Records.",
		Matter: fmt.Sprintf("SYSTEM NAME AND NUMBER:\n\n%s\n\nSECURITY CLASSIFICATION:\n\n%s\n\n%s",
			systemLine, classification, supplementary),
	}
}

func systemNameLine(meta metadataReader, fallback string) string {
	name := meta.str("system_name")
	if name == "" {
		name = fallback
	}
	if id := meta.str("identifier"); id != "" {
		return name + ": " + id
	}
	return name
}

type metadataReader map[string]any

func (m metadataReader) str(key string) string {
	if m == nil {
		return ""
	}
	switch v := m[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func stripTags(s string) string {
	return tagPattern.ReplaceAllString(s, "")
}
