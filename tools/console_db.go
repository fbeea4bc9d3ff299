package main

import (
	"database/sql"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	_ "modernc.org/sqlite"
)

// openDB opens the server database directly. The server must have created
// it already.
func openDB() (*sql.DB, error) {
	if _, err := os.Stat(DBPath); err != nil {
		return nil, fmt.Errorf("database %s: %w", DBPath, err)
	}
	db, err := sql.Open("sqlite", DBPath)
	if err != nil {
		return nil, err
	}
	db.Exec("PRAGMA busy_timeout=5000;")
	db.Exec("PRAGMA foreign_keys=ON;")
	os.Chmod(DBPath, 0600)
	return db, nil
}

func withDB(fn func(db *sql.DB, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()
		return fn(db, args)
	}
}

func listUsers(db *sql.DB, _ []string) error {
	rows, err := db.Query(`SELECT u.id, u.name, u.role, u.banned, u.created_at,
			COALESCE(u.minikit_address, ''),
			(SELECT COUNT(*) FROM user_prize p WHERE p.user_id = u.id),
			(SELECT COALESCE(SUM(p.attempts), 0) FROM user_prize p WHERE p.user_id = u.id)
		FROM "user" u ORDER BY u.created_at ASC`)
	if err != nil {
		return fmt.Errorf("querying users: %w", err)
	}
	defer rows.Close()

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tNAME\tROLE\tWALLET\tTOURNAMENTS\tATTEMPTS\tJOINED")
	n := 0
	for rows.Next() {
		var id, name, role, wallet string
		var banned bool
		var created, tournaments, attempts int64
		if err := rows.Scan(&id, &name, &role, &banned, &created, &wallet, &tournaments, &attempts); err != nil {
			return err
		}
		if banned {
			role += " (banned)"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n", id, name, role, wallet, tournaments,
			humanize.Comma(attempts), humanize.Time(time.UnixMilli(created)))
		n++
	}
	tw.Flush()
	fmt.Printf("%d users\n", n)
	return rows.Err()
}

func updateUser(db *sql.DB, id, query string, args ...interface{}) error {
	res, err := db.Exec(query, append(args, time.Now().UnixMilli(), id)...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	return nil
}

// banUser flags the user and ends their sessions in one transaction.
func banUser(db *sql.DB, id string, reason, expires interface{}) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	res, err := tx.Exec(`UPDATE "user" SET banned = 1, ban_reason = ?, ban_expires = ?, updated_at = ? WHERE id = ?`,
		reason, expires, time.Now().UnixMilli(), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("user %s not found", id)
	}
	if _, err := tx.Exec(`DELETE FROM session WHERE user_id = ?`, id); err != nil {
		return fmt.Errorf("ending sessions of %s: %w", id, err)
	}
	return tx.Commit()
}

func usersCmd() *cobra.Command {
	users := &cobra.Command{Use: "users", Short: "Manage accounts in the database"}

	users.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		Args:  cobra.NoArgs,
		RunE:  withDB(listUsers),
	})

	var banFor time.Duration
	ban := &cobra.Command{
		Use:   "ban <userId> [reason]",
		Short: "Ban a user and end their sessions",
		Args:  cobra.RangeArgs(1, 2),
		RunE: withDB(func(db *sql.DB, args []string) error {
			var reason, expires interface{}
			if len(args) == 2 {
				reason = args[1]
			}
			if banFor > 0 {
				expires = time.Now().Add(banFor).UnixMilli()
			}
			if err := banUser(db, args[0], reason, expires); err != nil {
				return err
			}
			if banFor > 0 {
				fmt.Printf("User %s banned until %s\n", args[0], humanize.Time(time.Now().Add(banFor)))
			} else {
				fmt.Printf("User %s banned\n", args[0])
			}
			return nil
		}),
	}
	ban.Flags().DurationVar(&banFor, "for", 0, "ban duration (default permanent)")
	users.AddCommand(ban)

	users.AddCommand(&cobra.Command{
		Use:   "unban <userId>",
		Short: "Lift a ban",
		Args:  cobra.ExactArgs(1),
		RunE: withDB(func(db *sql.DB, args []string) error {
			if err := updateUser(db, args[0], `UPDATE "user" SET banned = 0, ban_reason = NULL, ban_expires = NULL, updated_at = ? WHERE id = ?`); err != nil {
				return err
			}
			fmt.Printf("User %s unbanned\n", args[0])
			return nil
		}),
	})

	users.AddCommand(&cobra.Command{
		Use:   "role <userId> <user|admin>",
		Short: "Set a user's role",
		Args:  cobra.ExactArgs(2),
		RunE: withDB(func(db *sql.DB, args []string) error {
			role := strings.ToLower(args[1])
			if role != "user" && role != "admin" {
				return fmt.Errorf("role must be user or admin")
			}
			if err := updateUser(db, args[0], `UPDATE "user" SET role = ?, updated_at = ? WHERE id = ?`, role); err != nil {
				return err
			}
			fmt.Printf("User %s is now %s\n", args[0], role)
			return nil
		}),
	})

	users.AddCommand(&cobra.Command{
		Use:   "delete <userId> CONFIRM",
		Short: "Delete a user with their wallets, sessions and prizes",
		Args:  cobra.ExactArgs(2),
		RunE: withDB(func(db *sql.DB, args []string) error {
			if args[1] != "CONFIRM" {
				return fmt.Errorf("to delete user %s, pass CONFIRM after the id", args[0])
			}
			tx, err := db.Begin()
			if err != nil {
				return err
			}
			defer tx.Rollback()
			for _, q := range []string{
				`DELETE FROM session WHERE user_id = ?`,
				`DELETE FROM wallet_address WHERE user_id = ?`,
				`DELETE FROM user_prize WHERE user_id = ?`,
			} {
				if _, err := tx.Exec(q, args[0]); err != nil {
					return err
				}
			}
			res, err := tx.Exec(`DELETE FROM "user" WHERE id = ?`, args[0])
			if err != nil {
				return err
			}
			if n, _ := res.RowsAffected(); n == 0 {
				return fmt.Errorf("user %s not found", args[0])
			}
			if err := tx.Commit(); err != nil {
				return err
			}
			fmt.Printf("User %s deleted\n", args[0])
			return nil
		}),
	})
	return users
}
