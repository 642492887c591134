package notifications

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Template keys. Status-changed events use the key of the new status and
// fall back to TemplateStatus.
const (
	TemplateSubmitted = "submitted"
	TemplateInReview  = "in_review"
	TemplateApproved  = "approved"
	TemplatePublished = "published"
	TemplateRejected  = "rejected"
	TemplateError     = "error"
	TemplateStatus    = "status"
)

// Template is a subject and body with {placeholder} variables.
type Template struct {
	Subject string `yaml:"subject"`
	Body    string `yaml:"body"`
}

// Templates maps template keys to templates.
type Templates map[string]Template

// DefaultTemplates returns a fresh copy of the built-in templates.
func DefaultTemplates() Templates {
	return Templates{
		TemplateSubmitted: {
			Subject: "[{site_name}] SORN Submission Received - {sorn_title}",
			Body: "A new SORN submission has been received and is being processed.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Status: {status}\n" +
				"Submitted: {submitted_date}\n\n" +
				"You will receive updates as the submission progresses.\n\n" +
				"View Details: {submission_url}",
		},
		TemplateInReview: {
			Subject: "[{site_name}] SORN Under Review - {sorn_title}",
			Body: "Your SORN submission is now under review by the Federal Register.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Status: {status}\n" +
				"Review Started: {event_date}\n\n" +
				"You will be notified when the review is complete.\n\n" +
				"View Details: {submission_url}",
		},
		TemplateApproved: {
			Subject: "[{site_name}] SORN Approved - {sorn_title}",
			Body: "Your SORN submission has been approved by the Federal Register.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Document Number: {document_number}\n" +
				"Status: {status}\n" +
				"Approval Date: {event_date}\n\n" +
				"The SORN will be scheduled for publication soon.\n\n" +
				"View Details: {submission_url}",
		},
		TemplatePublished: {
			Subject: "[{site_name}] SORN Published - {sorn_title}",
			Body: "Your SORN has been published in the Federal Register.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Document Number: {document_number}\n" +
				"Status: {status}\n" +
				"Publication Date: {published_date}\n\n" +
				"View in Federal Register: {document_url}\n" +
				"View Details: {submission_url}",
		},
		TemplateRejected: {
			Subject: "[{site_name}] SORN Submission Rejected - {sorn_title}",
			Body: "Your SORN submission has been rejected by the Federal Register.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Status: {status}\n" +
				"Rejection Date: {event_date}\n" +
				"Reason: {event_message}\n\n" +
				"Please review the rejection reason and make necessary corrections.\n\n" +
				"View Details: {submission_url}",
		},
		TemplateError: {
			Subject: "[{site_name}] SORN Submission Error - {sorn_title}",
			Body: "An error occurred with your SORN submission.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Status: {status}\n" +
				"Error Date: {event_date}\n" +
				"Error: {event_message}\n\n" +
				"The system will attempt to retry the submission automatically.\n\n" +
				"View Details: {submission_url}",
		},
		TemplateStatus: {
			Subject: "[{site_name}] SORN Status Update - {sorn_title}",
			Body: "The status of your SORN submission has changed.\n\n" +
				"SORN: {sorn_title}\n" +
				"Submission ID: {submission_id}\n" +
				"Status: {status}\n" +
				"Updated: {event_date}\n\n" +
				"View Details: {submission_url}",
		},
	}
}

// LoadTemplates returns the defaults overlaid with the templates in path.
// An empty path yields the defaults. Overrides replace only the fields they
// set.
func LoadTemplates(path string) (Templates, error) {
	templates := DefaultTemplates()
	if strings.TrimSpace(path) == "" {
		return templates, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read templates: %w", err)
	}
	var overrides map[string]Template
	if err := yaml.Unmarshal(raw, &overrides); err != nil {
		return nil, fmt.Errorf("parse templates %s: %w", path, err)
	}
	for key, override := range overrides {
		key = strings.ToLower(strings.TrimSpace(key))
		current := templates[key]
		if override.Subject != "" {
			current.Subject = override.Subject
		}
		if override.Body != "" {
			current.Body = override.Body
		}
		if current.Subject == "" || current.Body == "" {
			return nil, fmt.Errorf("template %q needs both subject and body", key)
		}
		templates[key] = current
	}
	return templates, nil
}

// Lookup returns the template for key, or the generic status template.
func (t Templates) Lookup(key string) (Template, bool) {
	if tpl, ok := t[key]; ok {
		return tpl, true
	}
	tpl, ok := t[TemplateStatus]
	return tpl, ok
}

// Render substitutes every {name} in the template. Unknown placeholders are
// left as written.
func (t Template) Render(vars map[string]string) (subject, body string) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		pairs = append(pairs, "{"+k+"}", vars[k])
	}
	r := strings.NewReplacer(pairs...)
	return r.Replace(t.Subject), r.Replace(t.Body)
}
