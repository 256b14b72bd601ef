// Command seed fills the configured database with fake users, direct
// conversations, messages and reviews.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"animehub-be/internal/account"
	"animehub-be/internal/app"
	"animehub-be/internal/chat"
	"animehub-be/internal/config"
	"animehub-be/internal/database"
	"animehub-be/internal/logger"
	"animehub-be/internal/models"
	"animehub-be/internal/review"
	"animehub-be/internal/session"
	"animehub-be/internal/store"
	"animehub-be/internal/store/memstore"
	"animehub-be/internal/upload"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type options struct {
	users    int
	messages int
	reviews  int
	password string
	seed     int64
}

type result struct {
	Users         []*models.User
	Conversations int
	Messages      int
	Reviews       int
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts options
	cmd := &cobra.Command{
		Use:          "seed",
		Short:        "Fill the database with fake AnimeHub data",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			_ = godotenv.Load()
			cfg := config.Load()
			lg, err := logger.New(cfg.LogLevel, cfg.Development())
			if err != nil {
				return err
			}
			defer lg.Sync() //nolint:errcheck

			repo, err := openRepository(cfg, lg)
			if err != nil {
				return err
			}
			secret := cfg.SessionSecret
			if secret == "" {
				secret = "seed"
			}
			svc := app.NewServices(repo,
				session.NewManager(session.NewMemoryStore(), secret, cfg.SessionTTL),
				upload.NewStore(upload.NewDisk(cfg.UploadDir)), lg)

			if opts.seed == 0 {
				opts.seed = time.Now().UnixNano()
			}
			res, err := seed(cmd.Context(), svc, opts, gofakeit.New(opts.seed))
			if err != nil {
				return err
			}
			report(cmd.OutOrStdout(), res, opts.password)
			return nil
		},
	}
	cmd.CompletionOptions.DisableDefaultCmd = true
	f := cmd.Flags()
	f.IntVar(&opts.users, "users", 5, "number of users to create")
	f.IntVar(&opts.messages, "messages", 10, "messages per direct conversation")
	f.IntVar(&opts.reviews, "reviews", 1, "reviews per user")
	f.StringVar(&opts.password, "password", "password123", "password for every seeded user")
	f.Int64Var(&opts.seed, "seed", 0, "random seed (0 picks one from the clock)")
	return cmd
}

func openRepository(cfg config.Config, lg *zap.Logger) (store.Repository, error) {
	if cfg.DBDriver == "memory" {
		return memstore.New(), nil
	}
	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("DB_DSN is required")
	}
	db, err := database.Open(cfg.DBDriver, cfg.DBDSN, lg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return store.NewGorm(db), nil
}

func seed(ctx context.Context, svc *app.Services, opts options, f *gofakeit.Faker) (*result, error) {
	if opts.users < 2 {
		return nil, fmt.Errorf("--users must be at least 2")
	}
	if len(opts.password) < account.MinPasswordLength {
		return nil, fmt.Errorf("--password must be at least %d characters", account.MinPasswordLength)
	}

	res := &result{}
	stamp := strconv.FormatInt(time.Now().Unix()%100000, 10)
	for i := 0; i < opts.users; i++ {
		name := username(f.Username(), stamp, i)
		u, err := svc.Accounts.Signup(ctx, account.SignupInput{
			Username: name,
			Email:    strings.ToLower(name) + "@animehub.test",
			Password: opts.password,
		})
		if err != nil {
			return nil, fmt.Errorf("create user %s: %w", name, err)
		}
		res.Users = append(res.Users, u)
	}

	// Consecutive users talk to each other.
	for i := 0; i+1 < len(res.Users); i++ {
		a, b := res.Users[i], res.Users[i+1]
		view, _, err := svc.Resolver.GetOrCreateDirect(ctx, a.ID, b.ID)
		if err != nil {
			return nil, fmt.Errorf("create conversation: %w", err)
		}
		res.Conversations++
		for n := 0; n < opts.messages; n++ {
			sender := a
			if n%2 == 1 {
				sender = b
			}
			_, err := svc.Messages.Send(ctx, chat.SendInput{
				Conversation: models.DirectRef(view.ID),
				SenderID:     sender.ID,
				Content:      f.Sentence(f.Number(3, 12)),
			})
			if err != nil {
				return nil, fmt.Errorf("send message: %w", err)
			}
			res.Messages++
		}
	}

	for _, u := range res.Users {
		for n := 0; n < opts.reviews; n++ {
			_, err := svc.Reviews.Create(ctx, u.ID, review.Input{
				Title:  f.AppName(),
				Text:   f.Sentence(f.Number(8, 20)),
				Rating: strconv.Itoa(f.Number(1, 5)),
			})
			if err != nil {
				return nil, fmt.Errorf("create review: %w", err)
			}
			res.Reviews++
		}
	}
	return res, nil
}

// username keeps only letters and digits from base and makes it unique per
// run and index, within the 30 character limit.
func username(base, stamp string, i int) string {
	var b strings.Builder
	for _, r := range base {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	suffix := "_" + stamp + "_" + strconv.Itoa(i)
	name := b.String()
	if name == "" {
		name = "user"
	}
	if len(name)+len(suffix) > 30 {
		name = name[:30-len(suffix)]
	}
	return name + suffix
}

func report(w io.Writer, res *result, password string) {
	fmt.Fprintf(w, "created %d users, %d conversations, %d messages, %d reviews\n",
		len(res.Users), res.Conversations, res.Messages, res.Reviews)
	for _, u := range res.Users {
		fmt.Fprintf(w, "  %-32s %s / %s\n", u.Username, u.Email, password)
	}
}
