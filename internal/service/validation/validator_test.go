package validation_test

import (
	"context"
	"errors"
	"testing"

	"github.com/phishsense/sendjobs/internal/domain"
	"github.com/phishsense/sendjobs/internal/service/validation"
)

func goodTemplate() *domain.Template {
	return &domain.Template{
		ID:                   "tpl-1",
		Subject:              "Password expiry",
		Body:                 `<p>Reset <a href="{{LANDING_URL}}">here</a><img src="{{OPEN_PIXEL_URL}}"></p>`,
		MaliciousPageContent: `<form action="{{SUBMIT_URL}}"></form><a href="{{ training_url }}">learn</a>`,
	}
}

func activePage() *domain.TrainingPage {
	return &domain.TrainingPage{ID: "tp-1", Status: domain.TrainingPageActive}
}

func codes(r validation.Result) []validation.Code {
	out := make([]validation.Code, len(r.Issues))
	for i, is := range r.Issues {
		out[i] = is.Code
	}
	return out
}

func TestValidateTemplateOK(t *testing.T) {
	r := validation.ValidateTemplate(goodTemplate(), activePage())
	if !r.OK || len(r.Issues) != 0 {
		t.Fatalf("expected OK, got %+v", r)
	}
	if r.Message() != "" {
		t.Fatalf("expected empty message, got %q", r.Message())
	}
}

func TestValidateTemplateIssues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*domain.Template)
		page   *domain.TrainingPage
		want   validation.Code
	}{
		{"missing landing", func(t *domain.Template) { t.Body = "<p>no link</p>" }, activePage(), validation.CodeMailMissingLandingToken},
		{"unknown mail token", func(t *domain.Template) { t.Body += "{{FIRST_NAME}}" }, activePage(), validation.CodeMailUnknownTokens},
		{"empty malicious", func(t *domain.Template) { t.MaliciousPageContent = "   " }, activePage(), validation.CodeMaliciousContentMissing},
		{"missing training", func(t *domain.Template) { t.MaliciousPageContent = "<p>{{SUBMIT_URL}}</p>" }, activePage(), validation.CodeMaliciousMissingTrainingToken},
		{"unknown malicious token", func(t *domain.Template) { t.MaliciousPageContent += "{{LANDING_URL}}" }, activePage(), validation.CodeMaliciousUnknownTokens},
		{"page missing", func(*domain.Template) {}, nil, validation.CodeTrainingPageMissing},
		{"page inactive", func(*domain.Template) {}, &domain.TrainingPage{Status: domain.TrainingPageInactive}, validation.CodeTrainingPageInactive},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tpl := goodTemplate()
			tt.mutate(tpl)
			r := validation.ValidateTemplate(tpl, tt.page)
			if r.OK {
				t.Fatal("expected failure")
			}
			if !r.Has(tt.want) {
				t.Fatalf("expected %s in %v", tt.want, codes(r))
			}
		})
	}
}

func TestValidateTemplateListsUnknownTokens(t *testing.T) {
	tpl := goodTemplate()
	tpl.Body += "{{ first_name }}{{COMPANY}}{{FIRST_NAME}}"
	r := validation.ValidateTemplate(tpl, activePage())
	if len(r.Issues) != 1 {
		t.Fatalf("expected a single issue, got %v", codes(r))
	}
	got := r.Issues[0].Tokens
	if len(got) != 2 || got[0] != "FIRST_NAME" || got[1] != "COMPANY" {
		t.Fatalf("unexpected tokens %v", got)
	}
	if r.Issues[0].Scope != validation.ScopeMail {
		t.Fatalf("unexpected scope %s", r.Issues[0].Scope)
	}
}

func TestFormatJoinsMessages(t *testing.T) {
	tpl := &domain.Template{}
	r := validation.ValidateTemplate(tpl, nil)
	want := "Mail body has no LANDING_URL token.\n" +
		"Malicious page content is empty.\n" +
		"Malicious page content has no TRAINING_URL token.\n" +
		"No training page is linked to the project."
	if got := r.Message(); got != want {
		t.Fatalf("Message() = %q, want %q", got, want)
	}
	err := &validation.Error{Issues: r.Issues}
	var target *validation.Error
	if !errors.As(error(err), &target) || len(target.Issues) != 4 {
		t.Fatal("validation.Error should unwrap with its issues")
	}
}

// lookup is an in-memory Lookup for tests.
type lookup struct {
	templates map[string]*domain.Template
	pages     map[string]*domain.TrainingPage
	err       error
}

func (l *lookup) GetTemplate(_ context.Context, id string) (*domain.Template, error) {
	if l.err != nil {
		return nil, l.err
	}
	if t, ok := l.templates[id]; ok {
		return t, nil
	}
	return nil, domain.ErrNotFound
}

func (l *lookup) GetTrainingPage(_ context.Context, id string) (*domain.TrainingPage, error) {
	if p, ok := l.pages[id]; ok {
		return p, nil
	}
	return nil, domain.ErrNotFound
}

func strp(s string) *string { return &s }

func TestValidateProject(t *testing.T) {
	ctx := context.Background()
	l := &lookup{
		templates: map[string]*domain.Template{"tpl-1": goodTemplate()},
		pages:     map[string]*domain.TrainingPage{"tp-1": activePage()},
	}

	r, err := validation.ValidateProject(ctx, l, &domain.Project{ID: "p1", TemplateID: strp("tpl-1"), TrainingPageID: strp("tp-1")})
	if err != nil || !r.OK {
		t.Fatalf("expected OK, got %+v err=%v", r, err)
	}

	r, err = validation.ValidateProject(ctx, l, &domain.Project{ID: "p1", TemplateID: strp("tpl-1"), TrainingPageID: strp("gone")})
	if err != nil || !r.Has(validation.CodeTrainingPageMissing) {
		t.Fatalf("expected training_page_missing, got %v err=%v", codes(r), err)
	}
}

func TestValidateProjectTemplateMissingShortCircuits(t *testing.T) {
	ctx := context.Background()
	l := &lookup{templates: map[string]*domain.Template{}}

	for _, p := range []*domain.Project{
		{ID: "p1"},
		{ID: "p1", TemplateID: strp("")},
		{ID: "p1", TemplateID: strp("deleted")},
	} {
		r, err := validation.ValidateProject(ctx, l, p)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(r.Issues) != 1 || r.Issues[0].Code != validation.CodeTemplateMissing {
			t.Fatalf("expected only template_missing, got %v", codes(r))
		}
	}
}

func TestValidateProjectLookupError(t *testing.T) {
	boom := errors.New("connection reset")
	l := &lookup{err: boom}
	_, err := validation.ValidateProject(context.Background(), l, &domain.Project{TemplateID: strp("tpl-1")})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped lookup error, got %v", err)
	}
}
