package cmd

import (
	"context"
	"fmt"
	"strings"

	"ruleengine/core"
	"ruleengine/rules"

	"github.com/spf13/cobra"
)

type parseOutput struct {
	Rule       string             `json:"rule"`
	Canonical  string             `json:"canonical"`
	Attributes []string           `json:"attributes"`
	Depth      int                `json:"depth"`
	Nodes      int                `json:"nodes"`
	Tree       []rules.NodeRecord `json:"tree"`
}

type evalOutput struct {
	Rule   string `json:"rule"`
	Result bool   `json:"result"`
}

// attributeFlags collects attribute values from --data and --set
type attributeFlags struct {
	dataFile string
	sets     []string
}

func (f *attributeFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.dataFile, "data", "d", "", "YAML file with attribute values")
	cmd.Flags().StringArrayVarP(&f.sets, "set", "s", nil, "Attribute value as name=value (repeatable, overrides --data)")
}

// load merges the data file with --set values, typing each --set value by
// its catalog kind
func (f *attributeFlags) load(catalog *core.Catalog) (core.Attributes, error) {
	attrs := core.Attributes{}
	if f.dataFile != "" {
		loaded, err := core.LoadAttributesYAML(f.dataFile)
		if err != nil {
			return nil, err
		}
		attrs = loaded
	}

	for _, set := range f.sets {
		name, raw, ok := strings.Cut(set, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid --set %q: expected name=value", set)
		}
		value, err := core.ParseAttribute(catalog, name, raw)
		if err != nil {
			return nil, err
		}
		attrs[name] = value
	}
	return attrs, nil
}

func newParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <rule>",
		Short: "Parse a rule and show its tree",
		Example: `  ruleengine parse "age > 30 AND department = 'Sales'"
  ruleengine parse --json "salary <= 50000"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := initRuleService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			tree, err := svc.Parse(args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			result := parseOutput{
				Rule:       args[0],
				Canonical:  rules.String(tree),
				Attributes: rules.ReferencedAttributes(tree),
				Depth:      rules.Depth(tree),
				Nodes:      rules.CountLeaves(tree) + rules.CountOperators(tree),
				Tree:       rules.Flatten(tree),
			}
			if outputJSON {
				return outputAsJSON(out, result)
			}

			printSection(out, "Rule")
			printField(out, "Canonical", result.Canonical)
			printField(out, "Attributes", strings.Join(result.Attributes, ", "))
			printField(out, "Depth", result.Depth)
			printField(out, "Nodes", result.Nodes)
			printSection(out, "Tree")
			printTree(out, tree)
			return nil
		},
	}
}

func newEvalCmd() *cobra.Command {
	var attrFlags attributeFlags

	cmd := &cobra.Command{
		Use:   "eval <rule>",
		Short: "Evaluate a rule against attribute values",
		Example: `  ruleengine eval "age > 30 AND department = 'Sales'" --set age=35 --set department=Sales
  ruleengine eval "salary <= 50000" --data employee.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := initRuleService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			attrs, err := attrFlags.load(svc.Catalog())
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
			defer cancel()

			result, err := svc.Evaluate(ctx, args[0], attrs)
			if err != nil {
				return err
			}
			if outputJSON {
				return outputAsJSON(cmd.OutOrStdout(), evalOutput{Rule: args[0], Result: result})
			}
			printResult(cmd.OutOrStdout(), result)
			return nil
		},
	}
	attrFlags.register(cmd)
	return cmd
}

func newCombineCmd() *cobra.Command {
	var op string

	cmd := &cobra.Command{
		Use:   "combine <rule> <rule>...",
		Short: "Join rules with one logical operator",
		Example: `  ruleengine combine "age > 30" "department = 'Sales'"
  ruleengine combine --op OR "age > 60" "salary < 1000"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := rules.ParseLogicalOp(op)
			if err != nil {
				return err
			}

			svc, cleanup, err := initRuleService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			tree, err := svc.CombineRules(args, kind)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if outputJSON {
				return outputAsJSON(out, map[string]interface{}{
					"rule": rules.String(tree),
					"tree": rules.Flatten(tree),
				})
			}
			fmt.Fprintln(out, rules.String(tree))
			return nil
		},
	}
	cmd.Flags().StringVar(&op, "op", "AND", "Logical operator joining the rules (AND or OR)")
	return cmd
}

func newCatalogCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "catalog",
		Short: "List the attributes rules may reference",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, cleanup, err := initRuleService(cmd.Context(), false)
			if err != nil {
				return err
			}
			defer cleanup()

			out := cmd.OutOrStdout()
			attrs := svc.Catalog().Attributes()
			if outputJSON {
				return outputAsJSON(out, attrs)
			}
			printSection(out, "Attribute Catalog")
			for _, attr := range attrs {
				printField(out, attr.Name, attr.Kind.String())
			}
			return nil
		},
	}
}
