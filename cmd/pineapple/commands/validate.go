package commands

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/athrane/pineapple-sub012/pkg/config"
	"github.com/athrane/pineapple-sub012/pkg/engine"
	"github.com/athrane/pineapple-sub012/pkg/policy"
)

func newValidateCommand() *cobra.Command {
	var (
		environment string
		operation   string
	)

	cmd := &cobra.Command{
		Use:   "validate [document...]",
		Short: "Validate model documents",
		Long: `Validate model documents against the built-in schemas and policies.

This command checks:
  - CUE syntax validity
  - Schema conformance
  - Property substitution (with --env)
  - Policy compliance (OPA/rego)

Without arguments every document in the model directory is validated.`,
		Example: `  # Validate all documents
  pineapple validate

  # Validate one document as it would be configured on prod
  pineapple validate model/domain.cue --env prod --operation configure

  # Include site policies
  pineapple validate --policies ./policies`,
		RunE: func(cmd *cobra.Command, args []string) error {
			op := engine.OperationName(operation)
			if err := op.Validate(); err != nil {
				return err
			}

			ctx, a, err := newApp(cmd.Context(), cmd.Root().Version)
			if err != nil {
				return err
			}
			defer a.close(ctx)

			documents := args
			if len(documents) == 0 {
				documents, err = findDocuments(a.workspace.Dir())
				if err != nil {
					return err
				}
			}
			if len(documents) == 0 {
				fmt.Println("No documents found")
				return nil
			}

			t := table.NewWriter()
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{"DOCUMENT", "POLICY", "SEVERITY", "PATH", "MESSAGE"})

			var invalid int
			for _, document := range documents {
				log.Debug().Str("document", document).Msg("Validating document")

				doc, err := a.workspace.Document(ctx, document, environment)
				if err != nil {
					invalid++
					t.AppendRow(table.Row{document, "schema", policy.SeverityError, "", parseMessage(err)})
					continue
				}

				res, err := a.policies.EvaluateDocument(ctx, doc, string(op), environment)
				if err != nil {
					return err
				}
				if !res.Allowed {
					invalid++
				}
				for _, v := range append(res.Violations, res.Warnings...) {
					t.AppendRow(table.Row{document, v.Policy, v.Severity, v.Path, v.Message})
				}
				for _, f := range res.Failures {
					t.AppendRow(table.Row{document, "", "failure", "", f})
				}
			}

			if t.Length() > 0 {
				fmt.Println(t.Render())
			}
			fmt.Printf("%d documents, %d invalid\n", len(documents), invalid)
			if invalid > 0 {
				return fmt.Errorf("%d of %d documents are invalid", invalid, len(documents))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&environment, "env", "e", "", "environment whose properties are substituted")
	cmd.Flags().StringVar(&operation, "operation", string(engine.OperationConfigure), "operation the policies evaluate (test, configure)")

	return cmd
}

// findDocuments lists the documents of dir relative to it.
func findDocuments(dir string) ([]string, error) {
	found, err := config.FindDocuments(dir)
	if err != nil {
		return nil, err
	}
	documents := make([]string, 0, len(found))
	for _, path := range found {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		documents = append(documents, rel)
	}
	return documents, nil
}

// parseMessage flattens parse errors into one line per problem.
func parseMessage(err error) string {
	var perr *config.ParseError
	if errors.As(err, &perr) && len(perr.Errors) > 0 {
		lines := make([]string, 0, len(perr.Errors))
		for _, ve := range perr.Errors {
			lines = append(lines, ve.String())
		}
		return strings.Join(lines, "\n")
	}
	return err.Error()
}
