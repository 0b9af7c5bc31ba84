package validation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/mailing"
)

// Lookup loads the records a project references.
type Lookup interface {
	GetTemplate(ctx context.Context, id string) (*domain.Template, error)
	GetTrainingPage(ctx context.Context, id string) (*domain.TrainingPage, error)
}

// ValidateTemplate checks a template and the training page it will lead to.
// page may be nil.
func ValidateTemplate(tpl *domain.Template, page *domain.TrainingPage) Result {
	var issues []Issue

	mailTokens := mailing.ExtractTokens(tpl.Body)
	if unknown := mailing.UnknownTokens(mailTokens, mailing.MailAllowedTokens); len(unknown) > 0 {
		issues = append(issues, Issue{
			Code:    CodeMailUnknownTokens,
			Scope:   ScopeMail,
			Tokens:  unknown,
			Message: "Mail body contains unsupported tokens: " + strings.Join(unknown, ", "),
		})
	}
	if mailing.CountToken(tpl.Body, mailing.TokenLandingURL) == 0 {
		issues = append(issues, Issue{
			Code:    CodeMailMissingLandingToken,
			Scope:   ScopeMail,
			Message: "Mail body has no LANDING_URL token.",
		})
	}

	malicious := strings.TrimSpace(tpl.MaliciousPageContent)
	if malicious == "" {
		issues = append(issues, Issue{
			Code:    CodeMaliciousContentMissing,
			Scope:   ScopeMalicious,
			Message: "Malicious page content is empty.",
		})
	}
	maliciousTokens := mailing.ExtractTokens(malicious)
	if unknown := mailing.UnknownTokens(maliciousTokens, mailing.MaliciousAllowedTokens); len(unknown) > 0 {
		issues = append(issues, Issue{
			Code:    CodeMaliciousUnknownTokens,
			Scope:   ScopeMalicious,
			Tokens:  unknown,
			Message: "Malicious page content contains unsupported tokens: " + strings.Join(unknown, ", "),
		})
	}
	if mailing.CountToken(malicious, mailing.TokenTrainingURL) == 0 {
		issues = append(issues, Issue{
			Code:    CodeMaliciousMissingTrainingToken,
			Scope:   ScopeMalicious,
			Message: "Malicious page content has no TRAINING_URL token.",
		})
	}

	switch {
	case page == nil:
		issues = append(issues, Issue{
			Code:    CodeTrainingPageMissing,
			Scope:   ScopeProject,
			Message: "No training page is linked to the project.",
		})
	case page.Status == domain.TrainingPageInactive:
		issues = append(issues, Issue{
			Code:    CodeTrainingPageInactive,
			Scope:   ScopeProject,
			Message: "The linked training page is inactive.",
		})
	}

	return newResult(issues)
}

// ValidateProject resolves the project's template and training page and
// validates them. A project without a template, or whose template no longer
// exists, fails with template_missing alone. Lookup errors other than
// domain.ErrNotFound are returned as errors.
func ValidateProject(ctx context.Context, lookup Lookup, project *domain.Project) (Result, error) {
	if project.TemplateID == nil || *project.TemplateID == "" {
		return templateMissing("No template is linked to the project."), nil
	}

	tpl, err := lookup.GetTemplate(ctx, *project.TemplateID)
	if errors.Is(err, domain.ErrNotFound) {
		return templateMissing("The linked template could not be found."), nil
	}
	if err != nil {
		return Result{}, fmt.Errorf("load template: %w", err)
	}

	var page *domain.TrainingPage
	if project.TrainingPageID != nil && *project.TrainingPageID != "" {
		page, err = lookup.GetTrainingPage(ctx, *project.TrainingPageID)
		if errors.Is(err, domain.ErrNotFound) {
			page, err = nil, nil
		}
		if err != nil {
			return Result{}, fmt.Errorf("load training page: %w", err)
		}
	}

	return ValidateTemplate(tpl, page), nil
}

func templateMissing(msg string) Result {
	return newResult([]Issue{{Code: CodeTemplateMissing, Scope: ScopeProject, Message: msg}})
}
