package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"text/tabwriter"

	"family-gallery/internal/database"
)

// addUser creates an account. Arguments: <email> <display-name> [--admin];
// the flag may appear anywhere.
func (c *cli) addUser(ctx context.Context, args []string) int {
	role := database.RoleMember
	var positional []string
	for _, arg := range args {
		switch arg {
		case "--admin", "-admin":
			role = database.RoleAdmin
		default:
			positional = append(positional, arg)
		}
	}
	if len(positional) != 2 {
		fmt.Fprintln(c.errOut, "Usage: galleryctl user add <email> <display-name> [--admin]")
		return 1
	}
	email, displayName := positional[0], positional[1]

	password, ok := c.promptNewPassword()
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user, err := c.db.CreateUser(ctx, email, displayName, string(password), role)
	switch {
	case errors.Is(err, database.ErrUserExists):
		fmt.Fprintf(c.errOut, "Error: A user with email %s already exists\n", email)
		return 1
	case err != nil:
		fmt.Fprintf(c.errOut, "Error: Failed to create user: %v\n", err)
		return 1
	}

	fmt.Fprintf(c.out, "Created %s %s (%s)\n", user.Role, user.Email, user.ID)
	return 0
}

// resetUser replaces a user's password. Every session of the user ends.
func (c *cli) resetUser(ctx context.Context, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(c.errOut, "Usage: galleryctl user reset <email>")
		return 1
	}

	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	user, err := c.db.GetUserByEmail(ctx, args[0])
	if errors.Is(err, database.ErrNotFound) {
		fmt.Fprintf(c.errOut, "Error: No user with email %s\n", args[0])
		return 1
	}
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: Failed to look up user: %v\n", err)
		return 1
	}

	password, ok := c.promptNewPassword()
	if !ok {
		return 1
	}

	if err := c.db.UpdatePassword(ctx, user.ID, string(password)); err != nil {
		fmt.Fprintf(c.errOut, "Error: Failed to update password: %v\n", err)
		return 1
	}

	fmt.Fprintln(c.out, "Password updated successfully.")
	fmt.Fprintln(c.out, "All existing sessions have been invalidated.")
	return 0
}

func (c *cli) listUsers(ctx context.Context) int {
	ctx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	users, err := c.db.ListUsers(ctx)
	if err != nil {
		fmt.Fprintf(c.errOut, "Error: Failed to list users: %v\n", err)
		return 1
	}
	if len(users) == 0 {
		fmt.Fprintln(c.out, "No users. Create one with: galleryctl user add <email> <display-name> --admin")
		return 0
	}

	tw := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "EMAIL\tNAME\tROLE\tCREATED")
	for _, u := range users {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", u.Email, u.DisplayName, u.Role, u.CreatedAt.Format("2006-01-02"))
	}
	if err := tw.Flush(); err != nil {
		fmt.Fprintf(c.errOut, "Error: %v\n", err)
		return 1
	}
	return 0
}

// promptNewPassword asks for a password twice and checks it.
func (c *cli) promptNewPassword() ([]byte, bool) {
	password, err := c.readPassword("New Password: ")
	if err != nil {
		fmt.Fprintf(c.errOut, "Error reading password: %v\n", err)
		return nil, false
	}
	confirm, err := c.readPassword("Confirm Password: ")
	if err != nil {
		fmt.Fprintf(c.errOut, "Error reading password: %v\n", err)
		return nil, false
	}

	if !bytes.Equal(password, confirm) {
		fmt.Fprintln(c.errOut, "Error: Passwords do not match")
		return nil, false
	}
	if len(password) < database.MinPasswordLength {
		fmt.Fprintf(c.errOut, "Error: Password must be at least %d characters\n", database.MinPasswordLength)
		return nil, false
	}
	return password, true
}
