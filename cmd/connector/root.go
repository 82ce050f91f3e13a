package main

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/erp/catalog-exchange/internal/domain/credential"
	"github.com/erp/catalog-exchange/internal/domain/erpsync"
	"github.com/erp/catalog-exchange/internal/infrastructure/config"
	"github.com/erp/catalog-exchange/internal/infrastructure/credguard"
	"github.com/erp/catalog-exchange/internal/infrastructure/logger"
	"github.com/erp/catalog-exchange/internal/infrastructure/persistence"
	"github.com/erp/catalog-exchange/internal/infrastructure/syncclient"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// app holds what every subcommand needs once flags are parsed
type app struct {
	configPath string
	logLevel   string

	cfg *config.Config
	log *zap.Logger
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:          "connector",
		Short:        "ERP connector for the catalog exchange server",
		Version:      version,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init()
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.log != nil {
				_ = a.log.Sync()
			}
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default: search ./config.toml, ./config, /etc/catalog-exchange)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level, overrides log.level (debug, info, warn, error)")

	root.AddCommand(
		newSyncCmd(a),
		newSnapshotCmd(a),
		newPushCmd(a),
		newStatusCmd(a),
		newEncryptCmd(a),
		newFormatsCmd(a),
		newDetectCmd(a),
		newCheckCmd(a),
	)
	return root
}

func (a *app) init() error {
	cfg, err := config.LoadFile(a.configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	level := cfg.Log.Level
	if a.logLevel != "" {
		level = a.logLevel
	}
	log, err := logger.New(&logger.Config{
		Level:      level,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	a.cfg = cfg
	a.log = log
	return nil
}

func (a *app) guard() *credguard.Guard {
	return credguard.New(
		credguard.NewFileMachineKey(a.cfg.Credential.MachineIDPath, a.cfg.Credential.FallbackMachineIDPath),
		credguard.WithSalt(a.cfg.Credential.Salt),
		credguard.WithLogger(a.log.Named("credguard")))
}

func (a *app) tenantID() (uuid.UUID, error) {
	id, err := uuid.Parse(a.cfg.Connector.TenantID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, fmt.Errorf("connector.tenant_id must be a UUID, got %q", a.cfg.Connector.TenantID)
	}
	return id, nil
}

func (a *app) client() (*syncclient.Client, error) {
	cc := a.cfg.Connector
	if cc.BaseURL == "" {
		return nil, fmt.Errorf("connector.base_url is required")
	}
	tenantID, err := a.tenantID()
	if err != nil {
		return nil, err
	}
	opts := []syncclient.Option{
		syncclient.WithHTTPClient(&http.Client{Timeout: cc.RequestTimeout}),
		syncclient.WithLogger(a.log.Named("client")),
	}
	if cc.APIKey != "" {
		opts = append(opts, syncclient.WithAPIKey(cc.APIKey))
	}
	if cc.ErpUsernameEnc != "" || cc.ErpPasswordEnc != "" {
		opts = append(opts, syncclient.WithCredentialProvider(erpCredentials(a.guard(), cc.ErpUsernameEnc, cc.ErpPasswordEnc)))
	}
	return syncclient.New(cc.BaseURL, tenantID, opts...), nil
}

// erpCredentials decrypts the configured credentials for every request so
// the plaintext never outlives one call
func erpCredentials(g *credguard.Guard, userEnc, passEnc string) syncclient.CredentialProvider {
	return func(context.Context) (credential.ErpCredentials, error) {
		user, err := g.DecryptString(userEnc)
		if err != nil {
			return credential.ErpCredentials{}, err
		}
		pass, err := g.DecryptString(passEnc)
		if err != nil {
			for i := range user {
				user[i] = 0
			}
			return credential.ErpCredentials{}, err
		}
		return credential.NewErpCredentials(user, pass), nil
	}
}

func (a *app) openStore() (*persistence.Database, *persistence.GormLocalStore, error) {
	gormLog := logger.NewGormLogger(a.log, logger.MapGormLogLevel("warn"))
	db, err := persistence.OpenSQLite(a.cfg.Connector.SQLitePath, gormLog)
	if err != nil {
		return nil, nil, err
	}
	return db, persistence.NewGormLocalStore(db.DB), nil
}

// entityTypes resolves positional arguments, falling back to
// connector.entity_types
func (a *app) entityTypes(args []string) ([]erpsync.EntityType, error) {
	names := args
	if len(names) == 0 {
		names = a.cfg.Connector.EntityTypes
	}
	return parseEntityTypes(names)
}

func parseEntityTypes(names []string) ([]erpsync.EntityType, error) {
	out := make([]erpsync.EntityType, 0, len(names))
	seen := make(map[erpsync.EntityType]bool, len(names))
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			et, err := erpsync.ParseEntityType(part)
			if err != nil {
				return nil, err
			}
			if !seen[et] {
				seen[et] = true
				out = append(out, et)
			}
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no entity types given")
	}
	return out, nil
}
