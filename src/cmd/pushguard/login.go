package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginUser string
	loginPass string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in to the backend and store the token",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()

		user := loginUser
		if user == "" {
			user = gw.Config.Backend.Username
		}
		pass := loginPass
		if pass == "" {
			pass = gw.Config.Backend.Password
		}
		in := bufio.NewReader(os.Stdin)
		if user == "" {
			if user, err = prompt(in, "Username: "); err != nil {
				return err
			}
		}
		if pass == "" {
			if pass, err = prompt(in, "Password: "); err != nil {
				return err
			}
		}

		resp, err := gw.Client.Login(cmd.Context(), user, pass)
		if err != nil {
			return fmt.Errorf("login: %w", err)
		}
		name := resp.DisplayName
		if name == "" {
			name = resp.Username
		}
		fmt.Printf("Logged in as %s (%s)\n", name, resp.Role)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the stored token",
	RunE: func(cmd *cobra.Command, args []string) error {
		gw, err := openGateway()
		if err != nil {
			return err
		}
		defer gw.Close()
		if err := gw.Storage.ClearCredentials(); err != nil {
			return err
		}
		fmt.Println("Logged out")
		return nil
	},
}

func prompt(in *bufio.Reader, label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := in.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("read %s: %w", strings.TrimSuffix(strings.ToLower(label), ": "), err)
	}
	return strings.TrimSpace(line), nil
}

func init() {
	loginCmd.Flags().StringVarP(&loginUser, "username", "u", "", "Username (default: backend.username)")
	loginCmd.Flags().StringVarP(&loginPass, "password", "p", "", "Password (default: backend.password, else prompt)")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
