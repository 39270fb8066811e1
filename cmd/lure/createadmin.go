// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ManuGH/lure/internal/auth"
	"github.com/ManuGH/lure/internal/daemon"
	"github.com/ManuGH/lure/internal/model"
	"github.com/ManuGH/lure/internal/store"
)

type createAdminOptions struct {
	email     string
	username  string
	password  string
	firstName string
	lastName  string
}

func newCreateAdminCmd(root *rootOptions) *cobra.Command {
	o := &createAdminOptions{}
	cmd := &cobra.Command{
		Use:   "createadmin",
		Short: "Create a platform administrator",
		Long:  "Create a platform administrator. The password may also be passed via $LURE_ADMIN_PASSWORD.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if o.password == "" {
				o.password = os.Getenv("LURE_ADMIN_PASSWORD")
			}
			u, err := o.user()
			if err != nil {
				return err
			}

			cfg, _, logger, err := root.load()
			if err != nil {
				return err
			}
			st, err := daemon.OpenStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.CreateUser(cmd.Context(), u); err != nil {
				if errors.Is(err, store.ErrConflict) {
					return fmt.Errorf("a user with email %s or username %s already exists", u.Email, u.Username)
				}
				return err
			}
			logger.Info().Str("user_id", u.ID).Str("email", u.Email).Msg("administrator created")
			cmd.Printf("created admin %s (%s)\n", u.Username, u.ID)
			return nil
		},
	}
	cmd.Flags().StringVar(&o.email, "email", "", "admin email (required)")
	cmd.Flags().StringVar(&o.username, "username", "", "login name (defaults to the email)")
	cmd.Flags().StringVar(&o.password, "password", "", "admin password")
	cmd.Flags().StringVar(&o.firstName, "first-name", "", "first name")
	cmd.Flags().StringVar(&o.lastName, "last-name", "", "last name")
	_ = cmd.MarkFlagRequired("email")
	return cmd
}

// user validates the options and builds the admin record.
func (o *createAdminOptions) user() (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(o.email))
	if !strings.Contains(email, "@") {
		return nil, fmt.Errorf("invalid email %q", o.email)
	}
	if problems := auth.PasswordProblems(o.password); len(problems) > 0 {
		return nil, errors.New(strings.Join(problems, " "))
	}
	hash, err := auth.HashPassword(o.password)
	if err != nil {
		return nil, err
	}
	username := strings.TrimSpace(o.username)
	if username == "" {
		username = email
	}
	return &model.User{
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(o.firstName),
		LastName:     strings.TrimSpace(o.lastName),
		Role:         model.RoleAdmin,
		IsVerified:   true,
		IsActive:     true,
		IsStaff:      true,
	}, nil
}
