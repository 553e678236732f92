package main

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/leadflow/leadflow-backend/internal/lead/catalog"
	"github.com/leadflow/leadflow-backend/internal/lead/domain"
	"github.com/leadflow/leadflow-backend/internal/lead/gateway"
	"github.com/leadflow/leadflow-backend/internal/lead/queue"
	"github.com/leadflow/leadflow-backend/internal/lead/validation"
	"github.com/leadflow/leadflow-backend/internal/lead/workflow"
	"github.com/leadflow/leadflow-backend/pkg/config"
	"github.com/leadflow/leadflow-backend/pkg/httputil"
	"github.com/leadflow/leadflow-backend/pkg/logger"
	"github.com/spf13/pflag"
	"gopkg.in/yaml.v3"
)

type submitOptions struct {
	formPath   string
	docs       []string
	token      string
	yes        bool
	maxRetries int
}

func runSubmit(ctx context.Context, cfg *config.Config, log *logger.Logger, args []string) error {
	var opts submitOptions
	flags := pflag.NewFlagSet("submit", pflag.ContinueOnError)
	flags.StringVar(&opts.formPath, "form", "", "YAML file with form fields")
	flags.StringArrayVar(&opts.docs, "doc", nil, "document as KEY=path (repeatable)")
	flags.StringVar(&opts.token, "token", os.Getenv("LEADFLOW_TOKEN"), "bearer token for the lead API")
	flags.BoolVar(&opts.yes, "yes", false, "answer every prompt automatically")
	flags.IntVar(&opts.maxRetries, "max-retries", 3, "retries of a failed upload when --yes is set")
	if err := flags.Parse(args); err != nil {
		return err
	}
	if opts.token == "" {
		return fmt.Errorf("a bearer token is required (--token or LEADFLOW_TOKEN)")
	}

	var p prompter = surveyPrompter{}
	if opts.yes {
		p = autoPrompter{}
	}

	form := domain.NewFormState()
	if opts.formPath != "" {
		var err error
		if form, err = loadForm(opts.formPath); err != nil {
			return err
		}
	}

	engine := validation.New()
	form, err := completeForm(engine, form, p)
	if err != nil {
		return err
	}

	ctx = httputil.WithUserContext(ctx, "leadctl", opts.token)
	session := domain.NewLeadSession(uuid.NewString(), "leadctl", time.Now().UTC())
	session.Form = form

	orch := workflow.New(gateway.NewClient(&cfg.Gateway, &cfg.Lead, log), workflow.Options{
		RequireDocuments: cfg.Upload.RequireDocuments,
		Validator:        engine,
	}, log)

	leadID, err := orch.CreateLead(ctx, session)
	if err != nil {
		return err
	}
	fmt.Printf("lead created: %s\n", leadID)

	q := queue.New(cfg.Upload.MaxFileSize)
	if err := queueDocuments(q, catalog.Default().Required(form), opts.docs, os.Stdout); err != nil {
		return err
	}

	for attempt := 0; ; attempt++ {
		result, err := orch.SubmitDocuments(ctx, session, q)
		if err == nil {
			fmt.Printf("documents submitted: %d uploaded, %d already uploaded\n", result.Uploaded, result.Skipped)
			return nil
		}
		if result.Failed == nil {
			return err
		}

		fmt.Printf("upload of %s (%s) failed: %s\n", result.Failed.File.Name, result.Failed.Label, result.Failed.Error)
		if opts.yes && attempt >= opts.maxRetries {
			return err
		}
		retry, perr := p.Confirm("Retry the remaining documents?")
		if perr != nil {
			return perr
		}
		if !retry {
			return errDeclined
		}
	}
}

// loadForm reads form fields from a flat YAML mapping.
func loadForm(path string) (domain.FormState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var raw map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	for k := range raw {
		if !domain.IsField(k) {
			return nil, fmt.Errorf("%s: unknown field %q", path, k)
		}
	}
	return domain.NewFormState().Merge(raw), nil
}

// completeForm prompts for every failing field until the form validates.
func completeForm(engine *validation.Engine, form domain.FormState, p prompter) (domain.FormState, error) {
	for {
		errs := engine.Validate(form)
		if errs.Valid() {
			return form, nil
		}

		for _, field := range domain.Fields {
			problem, failed := errs[field]
			if !failed {
				continue
			}
			check := func(ans string) string {
				return engine.Validate(form.With(field, ans))[field]
			}
			ans, err := p.Field(field, form.Get(field), problem, check)
			if err != nil {
				return nil, err
			}
			form = form.With(field, ans)
		}
	}
}

// queueDocuments adds every KEY=path argument to q. Oversized files are
// reported and skipped; anything else wrong with an argument is an error.
func queueDocuments(q *queue.Queue, required []domain.DocumentRequirement, docs []string, out io.Writer) error {
	byKey := make(map[string]domain.DocumentRequirement, len(required))
	for _, r := range required {
		byKey[r.Key] = r
	}

	for _, arg := range docs {
		key, path, ok := strings.Cut(arg, "=")
		if !ok || key == "" || path == "" {
			return fmt.Errorf("--doc %q: want KEY=path", arg)
		}
		req, ok := byKey[key]
		if !ok {
			return fmt.Errorf("--doc %q: %s is not required for this lead", arg, key)
		}

		picked, err := readFile(path)
		if err != nil {
			return err
		}
		for _, err := range q.AddFiles(req.Key, req.Label, req.AllowsMultiple, []domain.PickedFile{picked}) {
			fmt.Fprintf(out, "skipped: %v\n", err)
		}
	}
	return nil
}

func readFile(path string) (domain.PickedFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.PickedFile{}, err
	}

	mimeType := mime.TypeByExtension(filepath.Ext(path))
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}

	return domain.PickedFile{
		URI:      "file://" + abs,
		Name:     filepath.Base(path),
		Size:     int64(len(data)),
		MimeType: mimeType,
		Data:     data,
	}, nil
}
