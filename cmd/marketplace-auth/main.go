package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"time"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	auth "github.com/goliatone/go-marketplace-auth"
	"github.com/goliatone/go-marketplace-auth/activitymap"
	"github.com/goliatone/go-marketplace-auth/gate"
	"github.com/goliatone/go-marketplace-auth/identity"
	"github.com/goliatone/go-marketplace-auth/repository"
	"github.com/goliatone/go-print"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Debug),
		glog.WithName("app"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(errors.ToSlogAttributes),
	)
	logger := lgr.GetLogger("app")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := run(ctx, lgr, logger); err != nil {
		logger.Error("marketplace auth demo failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, lgr *glog.BaseLogger, logger glog.Logger) error {
	cfg, err := auth.LoadConfig(ctx)
	if err != nil {
		return err
	}

	fmt.Println("============")
	fmt.Println(print.MaybePrettyJSON(cfg))
	fmt.Println("============")

	sqldb, err := sql.Open(sqliteshim.ShimName, cfg.GetDatabaseDSN())
	if err != nil {
		return err
	}
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())
	defer db.Close()

	repo := repository.NewManager(db)
	repo.MustValidate()
	if err := repo.Migrate(ctx); err != nil {
		return err
	}

	backend := identity.NewBackendFromConfig(db, cfg,
		identity.WithLogger(lgr.GetLogger("identity.backend")),
	)
	if err := backend.Migrate(ctx); err != nil {
		return err
	}

	sink := activitymap.Sink(func(n activitymap.Normalized) error {
		fmt.Println(print.MaybePrettyJSON(n))
		return nil
	}, activitymap.WithDefaultChannel("marketplace"))

	notifier := auth.NotifierFunc(func(_ context.Context, n auth.Notification) {
		logger.Info("notification", "level", n.Level, "message", n.Message)
	})

	provisioner := auth.NewProvisioner(backend, repo.Profiles(),
		auth.WithProvisionerValidator(auth.NewRegistrationValidatorFromConfig(cfg)),
		auth.WithProvisionerLogger(lgr.GetLogger("auth.provisioner")),
		auth.WithProvisionerActivitySink(sink),
	)

	manager := auth.NewSessionManager(backend, repo.Profiles(),
		auth.WithSessionManagerLogger(lgr.GetLogger("auth.session_manager")),
		auth.WithSessionManagerNotifier(notifier),
		auth.WithSessionManagerActivitySink(sink),
		auth.WithSessionManagerProvisioner(provisioner),
	)

	unsubscribe := manager.Subscribe(func(state auth.State) {
		logger.Debug("state published",
			"identity_id", state.IdentityID(),
			"role", state.Role,
			"phase", state.Phase,
		)
	})
	defer unsubscribe()

	if err := manager.Start(ctx); err != nil {
		return err
	}
	defer manager.Close()

	g := gate.NewFromConfig(cfg)
	addListing := gate.Request{Location: "/add-listing", RequiresRole: auth.RoleProvider}
	logDecision(logger, "anonymous", g.Authorize(manager.State(), addListing))

	result, err := manager.SignUp(ctx, auth.RegistrationRequest{
		Email:       "ahmad@example.com",
		Password:    "secret1",
		FullName:    "Ahmad Khan",
		Phone:       "03001234567",
		AccountType: auth.RoleProvider,
		Provider: &auth.ProviderFields{
			BusinessName: "Ahmad Photography",
			Category:     "Photography",
			Description:  "Wedding and event photography",
			Location:     "Peshawar",
		},
	})
	if err != nil && !auth.IsProfileCreationPartialFailure(err) {
		return err
	}
	logger.Info("registered", "identity_id", result.IdentityID, "outcome", result.Outcome)

	if !manager.State().Authenticated() {
		if _, err := manager.SignIn(ctx, "ahmad@example.com", "secret1"); err != nil {
			return err
		}
	}

	state := manager.State()
	fmt.Println(print.MaybePrettyJSON(state))
	logDecision(logger, "signed in", g.Authorize(state, addListing))

	if err := manager.SignOut(ctx); err != nil {
		return err
	}
	logDecision(logger, "signed out", g.Authorize(manager.State(), addListing))

	if _, err := manager.SignIn(ctx, "ahmad@example.com", "wrong-password"); err != nil {
		logger.Info("sign in rejected", "message", auth.UserMessage(err))
	}

	return nil
}

func logDecision(logger glog.Logger, label string, d gate.Decision) {
	logger.Info("route decision", "who", label, "kind", d.Kind, "location", d.URL())
}
