package cmd

import (
	"context"
	"fmt"
	"log"
	"time"

	"mirlo/config"
	"mirlo/core/auth"
	"mirlo/db"
	"mirlo/model"
	"mirlo/repository"

	"github.com/spf13/cobra"
)

var (
	userName    string
	userIsAdmin bool
)

var userCreateCmd = &cobra.Command{
	Use:   "user-create <email> <password>",
	Short: "Create a user account",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		email, password := args[0], args[1]

		cfg := config.Load()
		if err := db.ConnectDB(cfg); err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		defer db.DB.Close()
		if err := db.InitDB(); err != nil {
			log.Fatalf("failed to initialize database: %v", err)
		}

		hash, err := auth.HashPassword(password)
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		users := repository.NewMySQLUserRepository(db.DB)
		id, err := users.Create(ctx, &model.User{
			Email:        email,
			Name:         userName,
			PasswordHash: hash,
			IsAdmin:      userIsAdmin,
		})
		if err != nil {
			log.Fatalf("failed to create user: %v", err)
		}

		fmt.Printf("Created user %d (%s, admin=%v)\n", id, email, userIsAdmin)
	},
}

func init() {
	userCreateCmd.Flags().StringVar(&userName, "name", "", "display name")
	userCreateCmd.Flags().BoolVar(&userIsAdmin, "admin", false, "grant the admin flag")
	rootCmd.AddCommand(userCreateCmd)
}
