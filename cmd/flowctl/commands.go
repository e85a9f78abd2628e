package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/capitalize-ai/oncall-dispatch/internal/classify"
	"github.com/capitalize-ai/oncall-dispatch/internal/matcher"
	"github.com/capitalize-ai/oncall-dispatch/internal/model"
	"github.com/capitalize-ai/oncall-dispatch/internal/registry"
)

func loadRegistry(cmd *cobra.Command) (*registry.Registry, error) {
	path, _ := cmd.Flags().GetString("file")
	doc, err := registry.LoadFile(path)
	if err != nil {
		return nil, err
	}
	reg := registry.New()
	if err := reg.Load(doc.Workflows); err != nil {
		return nil, err
	}
	return reg, nil
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a workflow document for errors",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("file")
			doc, err := registry.LoadFile(path)
			if err != nil {
				var verr *registry.ValidationError
				if errors.As(err, &verr) {
					for _, issue := range verr.Issues {
						fmt.Fprintln(cmd.OutOrStdout(), "  -", issue)
					}
					return fmt.Errorf("%s: %d issue(s)", path, len(verr.Issues))
				}
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d workflows, %d templates OK\n", path, len(doc.Workflows), len(doc.ResponseTemplates))
			return nil
		},
	}
}

func newListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List workflows in match order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tPRIORITY\tENABLED\tCONDITIONS\tACTIONS")
			for _, def := range reg.Snapshot().All() {
				actions := make([]string, len(def.Actions))
				for i, a := range def.Actions {
					actions[i] = string(a.Type)
				}
				fmt.Fprintf(tw, "%s\t%d\t%t\t%s\t%s\n", def.Name, def.Priority, def.Enabled, conditions(def.Conditions), strings.Join(actions, ","))
			}
			return tw.Flush()
		},
	}
}

func conditions(conds []model.Condition) string {
	if len(conds) == 0 {
		return "*"
	}
	parts := make([]string, len(conds))
	for i, c := range conds {
		parts[i] = describe(c)
	}
	return strings.Join(parts, " ")
}

func describe(c model.Condition) string {
	if c.Kind == model.ConditionIn {
		return fmt.Sprintf("%s in [%s]", c.Field, strings.Join(c.Values, ","))
	}
	return fmt.Sprintf("%s=%s", c.Field, strings.Join(c.Values, ","))
}

func newMatchCmd() *cobra.Command {
	var (
		clsType, severity, channel, text string
		entities                         []string
	)
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Dry-run a classification against the workflows",
		Long: `Evaluates every workflow against a classification and shows which
conditions hold. With --text the message is classified by the keyword
classifier instead of --type/--severity.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := loadRegistry(cmd)
			if err != nil {
				return err
			}

			cls := model.NormalizeClassification(clsType, severity, 1, entities)
			if text != "" {
				cls, err = classify.NewKeywordClassifier().Classify(cmd.Context(), text, nil)
				if err != nil {
					return err
				}
			}
			msg := model.MessageContext{ChannelType: model.ChannelType(channel), Text: text, ReceivedAt: time.Now()}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "classification: type=%s severity=%s entities=%v\n\n", cls.Type, cls.Severity, cls.Entities)
			for _, ev := range matcher.Explain(cls, msg, reg.Snapshot().All()) {
				mark := "no"
				switch {
				case !ev.Enabled:
					mark = "disabled"
				case ev.Matched:
					mark = "MATCH"
				}
				fmt.Fprintf(out, "%s (priority %d): %s\n", ev.Workflow, ev.Priority, mark)
				for _, c := range ev.Conditions {
					ok := "x"
					if c.Holds {
						ok = "ok"
					}
					fmt.Fprintf(out, "    [%s] %s (actual %v)\n", ok, describe(c.Condition), c.Actual)
				}
			}

			if def, ok := matcher.Match(cls, msg, reg.ActiveDefinitions()); ok {
				fmt.Fprintf(out, "\nselected: %s\n", def.Name)
			} else {
				fmt.Fprintln(out, "\nselected: none (generic response)")
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&clsType, "type", "general", "classification type")
	cmd.Flags().StringVar(&severity, "severity", "low", "severity")
	cmd.Flags().StringSliceVar(&entities, "entity", nil, "extracted entity (repeatable)")
	cmd.Flags().StringVar(&channel, "channel", string(model.ChannelSlack), "channel type")
	cmd.Flags().StringVar(&text, "text", "", "message text to classify")
	return cmd
}
