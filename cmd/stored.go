package cmd

import (
	"context"
	"fmt"

	"ruleengine/core"
	"ruleengine/rules"
	"ruleengine/service"

	"github.com/spf13/cobra"
)

type ruleOutput struct {
	*core.StoredRule
	Tree []rules.NodeRecord `json:"tree,omitempty"`
}

func newRulesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Manage stored rules",
		Long: `Manage rules stored in the SQLite database.

Stored rules are referenced by id and can be evaluated and edited in place.`,
	}

	cmd.AddCommand(newRulesAddCmd())
	cmd.AddCommand(newRulesListCmd())
	cmd.AddCommand(newRulesShowCmd())
	cmd.AddCommand(newRulesDeleteCmd())
	cmd.AddCommand(newRulesEvalCmd())
	cmd.AddCommand(newRulesAddConditionCmd())
	cmd.AddCommand(newRulesRemoveConditionCmd())
	cmd.AddCommand(newRulesSetNodeCmd())

	return cmd
}

// withStore runs fn with a store-backed service and a bounded context
func withStore(cmd *cobra.Command, fn func(ctx context.Context, svc *service.RuleService) error) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), defaultTimeout)
	defer cancel()

	svc, cleanup, err := initRuleService(ctx, true)
	if err != nil {
		return err
	}
	defer cleanup()

	return fn(ctx, svc)
}

// reportRule prints a stored rule, or its JSON form
func reportRule(cmd *cobra.Command, rule *core.StoredRule, message string) error {
	out := cmd.OutOrStdout()
	if outputJSON {
		return outputAsJSON(out, rule)
	}
	if message != "" {
		successColor.Fprintf(out, "✓ %s\n", message)
	}
	printStoredRule(out, rule)
	return nil
}

func newRulesAddCmd() *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:     "add <rule>",
		Short:   "Store a new rule",
		Example: `  ruleengine rules add --name senior-sales "age > 30 AND department = 'Sales'"`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				rule, err := svc.CreateRule(ctx, name, args[0])
				if err != nil {
					return err
				}
				return reportRule(cmd, rule, "Rule stored")
			})
		},
	}
	cmd.Flags().StringVarP(&name, "name", "n", "", "Optional rule name")
	return cmd
}

func newRulesListCmd() *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List stored rules, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				page, err := svc.ListRules(ctx, limit, offset)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if outputJSON {
					return outputAsJSON(out, page)
				}
				printRuleTable(out, page.Items, page.Total)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of rules to list")
	cmd.Flags().IntVar(&offset, "offset", 0, "Number of rules to skip")
	return cmd
}

func newRulesShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a stored rule and its tree",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				rule, err := svc.GetRule(ctx, args[0])
				if err != nil {
					return err
				}
				tree, err := svc.LoadTree(ctx, args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if outputJSON {
					return outputAsJSON(out, ruleOutput{StoredRule: rule, Tree: rules.Flatten(tree)})
				}
				printStoredRule(out, rule)
				printSection(out, "Tree")
				printTree(out, tree)
				return nil
			})
		},
	}
}

func newRulesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a stored rule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				if err := svc.DeleteRule(ctx, args[0]); err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if outputJSON {
					return outputAsJSON(out, map[string]string{"deleted": args[0]})
				}
				successColor.Fprintf(out, "✓ Rule %s deleted\n", args[0])
				return nil
			})
		},
	}
}

func newRulesEvalCmd() *cobra.Command {
	var attrFlags attributeFlags

	cmd := &cobra.Command{
		Use:     "eval <id>",
		Short:   "Evaluate a stored rule against attribute values",
		Example: `  ruleengine rules eval 6f1c... --set age=35 --set department=Sales`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				attrs, err := attrFlags.load(svc.Catalog())
				if err != nil {
					return err
				}
				result, err := svc.EvaluateStored(ctx, args[0], attrs)
				if err != nil {
					return err
				}
				if outputJSON {
					return outputAsJSON(cmd.OutOrStdout(), map[string]interface{}{"id": args[0], "result": result})
				}
				printResult(cmd.OutOrStdout(), result)
				return nil
			})
		},
	}
	attrFlags.register(cmd)
	return cmd
}

func newRulesAddConditionCmd() *cobra.Command {
	var op string

	cmd := &cobra.Command{
		Use:     "add-condition <id> <rule>",
		Short:   "Join a rule onto a stored rule",
		Example: `  ruleengine rules add-condition 6f1c... --op OR "salary > 90000"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := rules.ParseLogicalOp(op)
			if err != nil {
				return err
			}
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				rule, err := svc.AddCondition(ctx, args[0], args[1], kind)
				if err != nil {
					return err
				}
				return reportRule(cmd, rule, "Condition added")
			})
		},
	}
	cmd.Flags().StringVar(&op, "op", "AND", "Logical operator joining the new condition (AND or OR)")
	return cmd
}

func newRulesRemoveConditionCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove-condition <id> <condition>",
		Short:   "Remove every comparison equal to a condition",
		Example: `  ruleengine rules remove-condition 6f1c... "department = 'Sales'"`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				rule, err := svc.RemoveCondition(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				return reportRule(cmd, rule, "Condition removed")
			})
		},
	}
}

func newRulesSetNodeCmd() *cobra.Command {
	var path string

	cmd := &cobra.Command{
		Use:   "set-node <id> <value>",
		Short: "Replace the operator or comparison at a tree path",
		Long: `Replace the node reached by --path, a string of L and R steps from the
root. Operator nodes take AND or OR; operand nodes take a comparison.`,
		Example: `  ruleengine rules set-node 6f1c... AND
  ruleengine rules set-node 6f1c... --path LR "department = 'Marketing'"`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(cmd, func(ctx context.Context, svc *service.RuleService) error {
				rule, err := svc.UpdateNode(ctx, args[0], path, args[1])
				if err != nil {
					return err
				}
				target := path
				if target == "" {
					target = "root"
				}
				return reportRule(cmd, rule, fmt.Sprintf("Node %s updated", target))
			})
		},
	}
	cmd.Flags().StringVarP(&path, "path", "p", "", "Node path from the root as L/R steps (empty selects the root)")
	return cmd
}
