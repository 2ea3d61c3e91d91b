package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	auth "github.com/goliatone/go-session-auth"
	"github.com/goliatone/go-print"
	"github.com/spf13/cobra"
)

const secretBytes = 32

type policyCreateOptions struct {
	name      string
	duration  int
	unit      string
	algorithm string
	secret    string
}

func newPolicyCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "policy",
		Aliases: []string{"policies"},
		Short:   "Provision access policies",
	}

	cmd.AddCommand(
		newPolicyCreateCmd(root),
		newPolicyListCmd(root),
	)

	return cmd
}

func newPolicyCreateCmd(root *rootOptions) *cobra.Command {
	opts := &policyCreateOptions{}

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an access policy with a random signing secret",
		Long: `
Usage: sessiond policy create --name <name> --duration <n> --unit <unit>

  Creates a named access policy. The signing secret is generated unless
  --secret is given, and is printed once.

      $ sessiond policy create --name user --duration 15 --unit minutes
      $ sessiond policy create --name refresh --duration 7 --unit d
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			secret := opts.secret
			if secret == "" {
				if secret, err = generateSecret(); err != nil {
					return err
				}
			}

			repo := auth.NewRepositoryManager(rt.db)
			policy, err := repo.Policies().Create(cmd.Context(), &auth.AccessPolicy{
				Name:          opts.name,
				SigningSecret: secret,
				Algorithm:     opts.algorithm,
				Duration:      opts.duration,
				DurationUnit:  opts.unit,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Success! Created access policy %q (id %d)\n", policy.Name, policy.ID)
			fmt.Fprintf(out, "Signing secret: %s\n", policy.SigningSecret)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.name, "name", "", "Policy name")
	cmd.Flags().IntVar(&opts.duration, "duration", 0, "Token lifetime in units")
	cmd.Flags().StringVar(&opts.unit, "unit", auth.UnitMinutes, "Duration unit: seconds, minutes, hours, days")
	cmd.Flags().StringVar(&opts.algorithm, "algorithm", auth.DefaultAlgorithm, "HMAC algorithm: HS256, HS384, HS512")
	cmd.Flags().StringVar(&opts.secret, "secret", "", "Signing secret, generated when empty")
	_ = cmd.MarkFlagRequired("name")
	_ = cmd.MarkFlagRequired("duration")

	return cmd
}

func newPolicyListCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List access policies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openRuntime(cmd.Context(), root)
			if err != nil {
				return err
			}
			defer rt.Close()

			policies, err := auth.NewPolicyRepository(rt.db).ListPolicies(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), print.MaybePrettyJSON(policies))
			return nil
		},
	}
}

func generateSecret() (string, error) {
	buf := make([]byte, secretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
