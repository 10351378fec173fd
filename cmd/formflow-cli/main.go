// Command formflow-cli walks a form schema interactively: it loads the
// schema, prompts for each visible field, runs every answer through the form
// runtime (masks, cascades, validation), and finally submits the payload to
// the schema's endpoint.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/AlecAivazis/survey/v2"

	"github.com/goliatone/go-formflow/pkg/autosave"
	"github.com/goliatone/go-formflow/pkg/form"
	"github.com/goliatone/go-formflow/pkg/schema"
	"github.com/goliatone/go-formflow/pkg/submit"
)

func main() {
	source := flag.String("schema", "form.json", "form schema path or URL")
	draftDir := flag.String("draft-dir", defaultDraftDir(), "directory for autosaved drafts")
	dryRun := flag.Bool("dry-run", false, "print the payload instead of submitting")
	flag.Parse()

	ctx := context.Background()

	doc, err := schema.Load(ctx, parseSource(*source))
	if err != nil {
		log.Fatalf("Failed to load schema: %v", err)
	}
	for _, issue := range doc.Issues {
		fmt.Fprintf(os.Stderr, "warning: %s: %s\n", issue.Field, issue.Message)
	}

	var opts []form.Option
	saver, draft := openDraft(doc, *draftDir)
	if draft != nil {
		opts = append(opts, form.WithInitialValues(draft))
		fmt.Fprintln(os.Stderr, "restored a saved draft")
	}

	runtime, err := form.New(doc, opts...)
	if err != nil {
		log.Fatalf("Failed to build form: %v", err)
	}
	defer runtime.Close()

	if saver != nil {
		saver.SetSnapshot(runtime.Values)
	}

	if doc.Title != "" {
		fmt.Println(doc.Title)
	}
	if doc.Description != "" {
		fmt.Println(doc.Description)
	}

	if saver != nil {
		saver.Start()
		defer saver.Stop()
	}

	if err := collect(runtime, saver); err != nil {
		log.Fatalf("Aborted: %v", err)
	}

	if failures := runtime.ValidateAll(); len(failures) > 0 {
		for name, msg := range failures {
			fmt.Fprintf(os.Stderr, "%s: %s\n", name, msg)
		}
		os.Exit(1)
	}

	payload := runtime.Payload()
	if *dryRun || doc.Submission == nil || doc.Submission.Endpoint == "" {
		encoded, _ := json.MarshalIndent(payload, "", "  ")
		fmt.Println(string(encoded))
		return
	}

	orchestrator := submit.New(doc.Submission)
	result, err := orchestrator.Submit(ctx, payload)
	if err != nil {
		log.Fatalf("Submission failed: %v", err)
	}
	if saver != nil {
		saver.Clear()
	}
	fmt.Println(result.Message)
	if doc.Submission.ShowDataOnSuccess && result.Body != nil {
		encoded, _ := json.MarshalIndent(result.Body, "", "  ")
		fmt.Println(string(encoded))
	}
}

func collect(runtime *form.Runtime, saver *autosave.Saver) error {
	for _, field := range runtime.Fields() {
		if field.Type == schema.FieldTypeHidden || field.IsComputed() {
			continue
		}
		if !runtime.Visible(field.Name) {
			continue
		}
		if err := askField(runtime, field); err != nil {
			return err
		}
		showComputed(runtime, field.Name)
		if saver != nil {
			saver.SaveNow()
		}
	}
	return nil
}

// askField prompts until the field validates or the user interrupts.
func askField(runtime *form.Runtime, field schema.Field) error {
	for {
		value, err := prompt(runtime, field)
		if err != nil {
			return err
		}
		if err := runtime.SetValue(field.Name, value); err != nil {
			return err
		}
		if err := runtime.Blur(field.Name); err != nil {
			return err
		}
		state, err := runtime.State(field.Name)
		if err != nil {
			return err
		}
		if state.Error == "" {
			return nil
		}
		fmt.Fprintf(os.Stderr, "%s\n", state.Error)
	}
}

func prompt(runtime *form.Runtime, field schema.Field) (any, error) {
	message := field.Label
	if message == "" {
		message = field.Name
	}
	state, err := runtime.State(field.Name)
	if err != nil {
		return nil, err
	}

	switch field.Type {
	case schema.FieldTypeCheckbox:
		var out bool
		def, _ := state.Value.(bool)
		err := survey.AskOne(&survey.Confirm{Message: message, Default: def, Help: field.Description}, &out)
		return out, err

	case schema.FieldTypeSelect, schema.FieldTypeRadio:
		options := optionLabels(state.Options)
		if len(options) == 0 {
			break
		}
		var picked string
		err := survey.AskOne(&survey.Select{Message: message, Options: options, Help: field.Description}, &picked)
		if err != nil {
			return nil, err
		}
		return optionValue(state.Options, picked), nil

	case schema.FieldTypeMultiSelect:
		options := optionLabels(state.Options)
		if len(options) == 0 {
			break
		}
		var picked []string
		err := survey.AskOne(&survey.MultiSelect{Message: message, Options: options, Help: field.Description}, &picked)
		if err != nil {
			return nil, err
		}
		values := make([]any, 0, len(picked))
		for _, label := range picked {
			values = append(values, optionValue(state.Options, label))
		}
		return values, nil

	case schema.FieldTypePassword:
		var out string
		err := survey.AskOne(&survey.Password{Message: message, Help: field.Description}, &out)
		return out, err

	case schema.FieldTypeTextarea, schema.FieldTypeRichText:
		var out string
		err := survey.AskOne(&survey.Multiline{Message: message, Help: field.Description}, &out)
		return out, err

	case schema.FieldTypeNumber:
		var out string
		err := survey.AskOne(&survey.Input{Message: message, Help: field.Description, Default: stringValue(state.Value)}, &out)
		if err != nil {
			return nil, err
		}
		if n, parseErr := strconv.ParseFloat(strings.TrimSpace(out), 64); parseErr == nil {
			return n, nil
		}
		return out, nil
	}

	var out string
	err = survey.AskOne(&survey.Input{
		Message: message,
		Help:    field.Description,
		Default: stringValue(state.Value),
	}, &out)
	return out, err
}

func showComputed(runtime *form.Runtime, changed string) {
	for _, field := range runtime.Fields() {
		if !field.IsComputed() || field.Computed == nil {
			continue
		}
		for _, dep := range field.Computed.Dependencies {
			if dep != changed {
				continue
			}
			if value, ok := runtime.Value(field.Name); ok {
				label := field.Label
				if label == "" {
					label = field.Name
				}
				fmt.Printf("%s: %v\n", label, value)
			}
			break
		}
	}
}

func optionLabels(options []schema.Option) []string {
	out := make([]string, 0, len(options))
	for _, opt := range options {
		if opt.Label != "" {
			out = append(out, opt.Label)
			continue
		}
		out = append(out, fmt.Sprint(opt.Value))
	}
	return out
}

func optionValue(options []schema.Option, label string) any {
	for _, opt := range options {
		if opt.Label == label || fmt.Sprint(opt.Value) == label {
			return opt.Value
		}
	}
	return label
}

func stringValue(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}

// openDraft builds the autosave saver when the schema enables it and returns
// any restorable draft. Storage trouble degrades to no autosave.
func openDraft(doc *schema.Form, dir string) (*autosave.Saver, map[string]any) {
	if doc.Autosave == nil || !doc.Autosave.Enabled || dir == "" {
		return nil, nil
	}
	store, err := autosave.NewStoreFor(doc.Autosave, dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: autosave disabled: %v\n", err)
		return nil, nil
	}
	saver := autosave.New(doc.Autosave, doc.Title, store, nil,
		autosave.WithLogf(log.Printf))
	draft, ok := saver.Restore()
	if !ok {
		return saver, nil
	}
	return saver, draft
}

func defaultDraftDir() string {
	cache, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(cache, "formflow", "drafts")
}

func parseSource(raw string) schema.Source {
	path := strings.TrimSpace(raw)
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return schema.SourceFromURL(path)
	}
	return schema.SourceFromFile(path)
}
