package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arkade-os/fee-distributor/internal/core/application"
	"github.com/arkade-os/fee-distributor/internal/core/domain"
	"github.com/arkade-os/fee-distributor/internal/core/ports"
	alertsmanager "github.com/arkade-os/fee-distributor/internal/infrastructure/alertsmanager"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/chain/simulated"
	"github.com/arkade-os/fee-distributor/internal/infrastructure/db"
	badgerledger "github.com/arkade-os/fee-distributor/internal/infrastructure/ledger/badger"
	bboltledger "github.com/arkade-os/fee-distributor/internal/infrastructure/ledger/bbolt"
	inmemoryledger "github.com/arkade-os/fee-distributor/internal/infrastructure/ledger/inmemory"
	leveldbledger "github.com/arkade-os/fee-distributor/internal/infrastructure/ledger/leveldb"
	redisledger "github.com/arkade-os/fee-distributor/internal/infrastructure/ledger/redis"
	timescheduler "github.com/arkade-os/fee-distributor/internal/infrastructure/scheduler/gocron"
	"github.com/arkade-os/fee-distributor/pkg/fixedpoint"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
)

var (
	supportedEventDbs = supportedType{
		"gochannel": {},
	}
	supportedDbs = supportedType{
		"badger":   {},
		"sqlite":   {},
		"postgres": {},
	}
	supportedLedgers = supportedType{
		"inmemory": {},
		"badger":   {},
		"leveldb":  {},
		"bbolt":    {},
		"redis":    {},
	}
	supportedSchedulers = supportedType{
		"gocron": {},
	}
	supportedChains = supportedType{
		"simulated": {},
	}
)

type Config struct {
	Datadir  string
	Port     uint32
	LogLevel int

	DbType              string
	EventDbType         string
	DbDir               string
	DbUrl               string
	LedgerType          string
	LedgerDir           string
	RedisUrl            string
	RedisTxNumOfRetries int
	SchedulerType       string
	ChainType           string
	ParamsFile          string
	InitiateAt          string
	ConfirmInterval     time.Duration
	AlertManagerURL     string

	SchedulerToken string
	TransportToken string
	AdminToken     string

	SimulatedReadFee     uint64
	SimulatedBridgeFee   string
	SimulatedRewardPrice string
	SimulatedSettleEvery time.Duration

	params    *domain.DistributionParams
	clock     clockwork.Clock
	ledger    ports.LedgerStore
	repo      ports.RepoManager
	network   *simulated.Network
	vault     ports.TokenVault
	transport ports.ReadTransport
	bridge    ports.Bridge
	sources   []ports.FeeSource
	trackers  ports.RewardTracker
	oracle    ports.PriceOracle
	scheduler ports.SchedulerService
	alerts    ports.Alerts
	svc       application.Service
	adminSvc  application.AdminService
}

func (c *Config) String() string {
	clone := *c
	for _, token := range []*string{
		&clone.SchedulerToken, &clone.TransportToken, &clone.AdminToken,
	} {
		if *token != "" {
			*token = "••••••"
		}
	}
	json, err := json.MarshalIndent(clone, "", "  ")
	if err != nil {
		return fmt.Sprintf("error while marshalling config JSON: %s", err)
	}
	return string(json)
}

var (
	defaultDatadir             = appDataDir("feedistd")
	DefaultPort                = 7080
	defaultLogLevel            = 4
	defaultDbType              = "sqlite"
	defaultEventDbType         = "gochannel"
	defaultLedgerType          = "badger"
	defaultRedisTxNumOfRetries = 10
	defaultSchedulerType       = "gocron"
	defaultChainType           = "simulated"
	defaultInitiateAt          = "00:30"
	defaultConfirmInterval     = 5 * time.Minute
	defaultSimulatedBridgeFee  = "0.001"
	defaultSimulatedPrice      = "1"
	defaultSimulatedSettle     = 30 * time.Second
)

// env returns a list of strings prefixed with `FEEDIST_`.
// This is used as a syntax sugar for defining env vars.
func env(values ...string) []string {
	envs := make([]string, len(values))

	for i, value := range values {
		envs[i] = fmt.Sprintf("FEEDIST_%s", value)
	}

	return envs
}

var (
	Datadir = &cli.StringFlag{
		Usage: "Directory to store data",
		Name:  "datadir", EnvVars: env("DATADIR"),
		Value: defaultDatadir,
	}

	Port = &cli.UintFlag{
		Usage: "Port to listen on",
		Name:  "port", EnvVars: env("PORT"),
		Value: uint(DefaultPort),
	}

	LogLevel = &cli.IntFlag{
		Usage: "Logging level (0-6, where 6 is trace)",
		Name:  "log-level", EnvVars: env("LOG_LEVEL"),
		Value: defaultLogLevel,
	}

	DbType = &cli.StringFlag{
		Usage: "Distribution history database type (postgres, sqlite, badger)",
		Name:  "db-type", EnvVars: env("DB_TYPE"),
		Value: defaultDbType,
	}

	DbUrl = &cli.StringFlag{
		Usage: "Postgres connection url if FEEDIST_DB_TYPE is set to postgres",
		Name:  "pg-db-url", EnvVars: env("PG_DB_URL"),
	}

	EventDbType = &cli.StringFlag{
		Usage: "Event bus type (gochannel)",
		Name:  "event-db-type", EnvVars: env("EVENT_DB_TYPE"),
		Value: defaultEventDbType,
	}

	LedgerType = &cli.StringFlag{
		Usage: "Ledger store type (inmemory, badger, leveldb, bbolt, redis)",
		Name:  "ledger-type", EnvVars: env("LEDGER_TYPE"),
		Value: defaultLedgerType,
	}

	RedisUrl = &cli.StringFlag{
		Usage: "Redis db connection url if FEEDIST_LEDGER_TYPE is set to redis",
		Name:  "redis-url", EnvVars: env("REDIS_URL"),
	}

	RedisTxNumOfRetries = &cli.IntFlag{
		Usage: "Maximum number of retries for Redis write operations in case of conflicts",
		Name:  "redis-num-of-retries", EnvVars: env("REDIS_NUM_OF_RETRIES"),
		Value: defaultRedisTxNumOfRetries,
	}

	SchedulerType = &cli.StringFlag{
		Usage: "Scheduler type (gocron)",
		Name:  "scheduler-type", EnvVars: env("SCHEDULER_TYPE"),
		Value: defaultSchedulerType,
	}

	ChainType = &cli.StringFlag{
		Usage: "Chain backend type (simulated)",
		Name:  "chain-type", EnvVars: env("CHAIN_TYPE"),
		Value: defaultChainType,
	}

	ParamsFile = &cli.StringFlag{
		Usage: "Distribution params file (yaml, json or toml) written into the ledger at startup",
		Name:  "params-file", EnvVars: env("PARAMS_FILE"),
	}

	InitiateAt = &cli.StringFlag{
		Usage: "UTC time of day (hh:mm) of the weekly distribution, empty to disable",
		Name:  "initiate-at", EnvVars: env("INITIATE_AT"),
		Value: defaultInitiateAt,
	}

	ConfirmInterval = &cli.DurationFlag{
		Usage: "Interval of the bridging confirmation job, 0 to disable",
		Name:  "confirm-interval", EnvVars: env("CONFIRM_INTERVAL"),
		Value: defaultConfirmInterval,
	}

	AlertManagerURL = &cli.StringFlag{
		Usage: "Alertmanager url to publish distribution alerts to",
		Name:  "alert-manager-url", EnvVars: env("ALERT_MANAGER_URL"),
	}

	SchedulerToken = &cli.StringFlag{
		Usage: "Bearer token of the scheduler role",
		Name:  "scheduler-token", EnvVars: env("SCHEDULER_TOKEN"),
	}

	TransportToken = &cli.StringFlag{
		Usage: "Bearer token of the read transport role",
		Name:  "transport-token", EnvVars: env("TRANSPORT_TOKEN"),
	}

	AdminToken = &cli.StringFlag{
		Usage: "Bearer token of the admin role",
		Name:  "admin-token", EnvVars: env("ADMIN_TOKEN"),
	}

	SimulatedReadFee = &cli.Uint64Flag{
		Usage: "Native fee charged per read by the simulated transport",
		Name:  "simulated-read-fee", EnvVars: env("SIMULATED_READ_FEE"),
	}

	SimulatedBridgeFee = &cli.StringFlag{
		Usage: "Fee factor charged by the simulated bridge",
		Name:  "simulated-bridge-fee", EnvVars: env("SIMULATED_BRIDGE_FEE"),
		Value: defaultSimulatedBridgeFee,
	}

	SimulatedRewardPrice = &cli.StringFlag{
		Usage: "Reward token price served by the simulated oracle, as a decimal",
		Name:  "simulated-reward-price", EnvVars: env("SIMULATED_REWARD_PRICE"),
		Value: defaultSimulatedPrice,
	}

	SimulatedSettleEvery = &cli.DurationFlag{
		Usage: "Interval at which the simulated bridge settles inflight transfers",
		Name:  "simulated-settle-every", EnvVars: env("SIMULATED_SETTLE_EVERY"),
		Value: defaultSimulatedSettle,
	}
)

var Flags = []cli.Flag{
	Datadir,
	Port,
	LogLevel,
	DbType,
	DbUrl,
	EventDbType,
	LedgerType,
	RedisUrl,
	RedisTxNumOfRetries,
	SchedulerType,
	ChainType,
	ParamsFile,
	InitiateAt,
	ConfirmInterval,
	AlertManagerURL,
	SchedulerToken,
	TransportToken,
	AdminToken,
	SimulatedReadFee,
	SimulatedBridgeFee,
	SimulatedRewardPrice,
	SimulatedSettleEvery,
}

func LoadConfig(c *cli.Context) (*Config, error) {
	if err := initDatadir(c); err != nil {
		return nil, fmt.Errorf("failed to create datadir: %s", err)
	}

	dbPath := filepath.Join(c.String(Datadir.Name), "db")
	ledgerPath := filepath.Join(c.String(Datadir.Name), "ledger")

	var dbUrl string
	if c.String(DbType.Name) == "postgres" {
		dbUrl = c.String(DbUrl.Name)
		if dbUrl == "" {
			return nil, fmt.Errorf("db type set to 'postgres' but db url is missing")
		}
	}

	var redisUrl string
	if c.String(LedgerType.Name) == "redis" {
		redisUrl = c.String(RedisUrl.Name)
		if redisUrl == "" {
			return nil, fmt.Errorf("ledger type set to 'redis' but redis url is missing")
		}
	}

	return &Config{
		Datadir:              c.String(Datadir.Name),
		Port:                 uint32(c.Uint(Port.Name)),
		LogLevel:             c.Int(LogLevel.Name),
		DbType:               c.String(DbType.Name),
		EventDbType:          c.String(EventDbType.Name),
		DbDir:                dbPath,
		DbUrl:                dbUrl,
		LedgerType:           c.String(LedgerType.Name),
		LedgerDir:            ledgerPath,
		RedisUrl:             redisUrl,
		RedisTxNumOfRetries:  c.Int(RedisTxNumOfRetries.Name),
		SchedulerType:        c.String(SchedulerType.Name),
		ChainType:            c.String(ChainType.Name),
		ParamsFile:           c.String(ParamsFile.Name),
		InitiateAt:           c.String(InitiateAt.Name),
		ConfirmInterval:      c.Duration(ConfirmInterval.Name),
		AlertManagerURL:      c.String(AlertManagerURL.Name),
		SchedulerToken:       c.String(SchedulerToken.Name),
		TransportToken:       c.String(TransportToken.Name),
		AdminToken:           c.String(AdminToken.Name),
		SimulatedReadFee:     c.Uint64(SimulatedReadFee.Name),
		SimulatedBridgeFee:   c.String(SimulatedBridgeFee.Name),
		SimulatedRewardPrice: c.String(SimulatedRewardPrice.Name),
		SimulatedSettleEvery: c.Duration(SimulatedSettleEvery.Name),
	}, nil
}

func initDatadir(c *cli.Context) error {
	datadir := c.String(Datadir.Name)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0o755)
	}
	return nil
}

func appDataDir(appName string) string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return "." + appName
	}
	return filepath.Join(home, "."+appName)
}

// Validate checks the config and builds every service but the application
// ones, which are built lazily.
func (c *Config) Validate() error {
	if !supportedEventDbs.supports(c.EventDbType) {
		return fmt.Errorf(
			"event db type not supported, please select one of: %s",
			supportedEventDbs,
		)
	}
	if !supportedDbs.supports(c.DbType) {
		return fmt.Errorf("db type not supported, please select one of: %s", supportedDbs)
	}
	if !supportedLedgers.supports(c.LedgerType) {
		return fmt.Errorf(
			"ledger type not supported, please select one of: %s", supportedLedgers,
		)
	}
	if !supportedSchedulers.supports(c.SchedulerType) {
		return fmt.Errorf(
			"scheduler type not supported, please select one of: %s",
			supportedSchedulers,
		)
	}
	if !supportedChains.supports(c.ChainType) {
		return fmt.Errorf("chain type not supported, please select one of: %s", supportedChains)
	}
	if c.InitiateAt != "" {
		if _, err := time.Parse("15:04", c.InitiateAt); err != nil {
			return fmt.Errorf("invalid initiate time %q, must be hh:mm", c.InitiateAt)
		}
	}
	if c.ConfirmInterval < 0 {
		return fmt.Errorf("confirm interval must not be negative")
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}

	if err := c.loadParams(); err != nil {
		return err
	}
	if err := c.ledgerService(); err != nil {
		return err
	}
	if err := c.repoManager(); err != nil {
		return err
	}
	if err := c.schedulerService(); err != nil {
		return err
	}
	if err := c.chainServices(); err != nil {
		return err
	}
	if err := c.adminService(); err != nil {
		return err
	}
	if err := c.alertsService(); err != nil {
		return err
	}
	return nil
}

func (c *Config) AppService() (application.Service, error) {
	if c.svc == nil {
		if err := c.appService(); err != nil {
			return nil, err
		}
	}
	return c.svc, nil
}

func (c *Config) AdminService() application.AdminService {
	return c.adminSvc
}

// Network is the simulated multi-chain environment, nil unless the chain
// type is simulated.
func (c *Config) Network() *simulated.Network {
	return c.network
}

func (c *Config) loadParams() error {
	if c.ParamsFile == "" {
		if c.ChainType == "simulated" {
			return fmt.Errorf("params file is required with the simulated chain type")
		}
		return nil
	}

	params, err := LoadParamsFile(c.ParamsFile)
	if err != nil {
		return err
	}
	if err := params.Validate(); err != nil {
		return fmt.Errorf("invalid distribution params: %w", err)
	}
	c.params = params
	return nil
}

func (c *Config) ledgerService() error {
	var svc ports.LedgerStore
	var err error
	switch c.LedgerType {
	case "inmemory":
		svc = inmemoryledger.NewLedgerStore()
	case "badger":
		svc, err = badgerledger.NewLedgerStore(c.LedgerDir, log.New())
	case "leveldb":
		svc, err = leveldbledger.NewLedgerStore(c.LedgerDir)
	case "bbolt":
		svc, err = bboltledger.NewLedgerStore(c.LedgerDir)
	case "redis":
		redisOpts, err := redis.ParseURL(c.RedisUrl)
		if err != nil {
			return fmt.Errorf("invalid REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(redisOpts)
		svc = redisledger.NewLedgerStore(rdb, c.RedisTxNumOfRetries)
	default:
		err = fmt.Errorf("unknown ledger type")
	}
	if err != nil {
		return err
	}

	c.ledger = svc
	return nil
}

func (c *Config) repoManager() error {
	var svc ports.RepoManager
	var err error
	var eventStoreConfig []interface{}
	var dataStoreConfig []interface{}
	logger := log.New()

	switch c.EventDbType {
	case "gochannel":
		eventStoreConfig = []interface{}{}
	default:
		return fmt.Errorf("unknown event db type")
	}

	switch c.DbType {
	case "badger":
		dataStoreConfig = []interface{}{c.DbDir, logger}
	case "sqlite":
		dataStoreConfig = []interface{}{c.DbDir}
	case "postgres":
		dataStoreConfig = []interface{}{c.DbUrl, true}
	default:
		return fmt.Errorf("unknown db type")
	}

	svc, err = db.NewService(db.ServiceConfig{
		EventStoreType:   c.EventDbType,
		DataStoreType:    c.DbType,
		EventStoreConfig: eventStoreConfig,
		DataStoreConfig:  dataStoreConfig,
	})
	if err != nil {
		return err
	}

	c.repo = svc
	return nil
}

func (c *Config) schedulerService() error {
	var svc ports.SchedulerService
	var err error
	switch c.SchedulerType {
	case "gocron":
		svc = timescheduler.NewScheduler()
	default:
		err = fmt.Errorf("unknown scheduler type")
	}
	if err != nil {
		return err
	}

	c.scheduler = svc
	return nil
}

func (c *Config) chainServices() error {
	switch c.ChainType {
	case "simulated":
		return c.simulatedChainServices()
	default:
		return fmt.Errorf("unknown chain type")
	}
}

// simulatedChainServices wires every chain port to an in-process network
// holding the configured chains. Read responses are delivered right away and
// bridged funds land on the periodic settlement.
func (c *Config) simulatedChainServices() error {
	bridgeFee, err := fixedpoint.ParseFactor(c.SimulatedBridgeFee)
	if err != nil {
		return fmt.Errorf("invalid simulated bridge fee: %w", err)
	}
	price, err := fixedpoint.ParseFactor(c.SimulatedRewardPrice)
	if err != nil {
		return fmt.Errorf("invalid simulated reward price: %w", err)
	}

	params := c.params
	current := params.CurrentChain()
	network := simulated.NewNetwork(c.clock, params.ChainIDs()...)

	c.network = network
	c.vault = simulated.NewVault(network, params.CurrentChainID, params.HoldingAccount)
	c.transport = simulated.NewTransport(network, uint256.NewInt(c.SimulatedReadFee), true)
	c.bridge = simulated.NewBridge(network, params.CurrentChainID, params.HoldingAccount, bridgeFee)
	c.sources = []ports.FeeSource{
		simulated.NewFeeSource(
			"v1", network, params.CurrentChainID, current.FeeHandler, params.HoldingAccount,
		),
	}
	c.trackers = simulated.NewRewardTracker(network, params.CurrentChainID)
	c.oracle = simulated.NewPriceOracle(map[common.Address]*uint256.Int{
		params.RewardToken: price,
	})

	if c.SimulatedSettleEvery > 0 {
		if err := c.scheduler.ScheduleEvery(c.SimulatedSettleEvery, func() {
			settled, err := network.Settle()
			if err != nil {
				log.WithError(err).Warn("failed to settle simulated transfers")
				return
			}
			if settled > 0 {
				log.Debugf("settled %d simulated transfers", settled)
			}
		}); err != nil {
			return fmt.Errorf("failed to schedule simulated settlement: %w", err)
		}
	}
	return nil
}

func (c *Config) appService() error {
	svc, err := application.NewService(
		c.ledger, c.repo, c.vault, c.transport, c.bridge, c.sources, c.trackers, c.oracle,
		c.scheduler, c.alerts, c.clock, c.params, c.InitiateAt, c.ConfirmInterval,
	)
	if err != nil {
		return err
	}

	c.svc = svc
	return nil
}

func (c *Config) adminService() error {
	c.adminSvc = application.NewAdminService(c.ledger, c.repo, c.vault, c.clock)
	return nil
}

func (c *Config) alertsService() error {
	if c.AlertManagerURL == "" {
		return nil
	}

	c.alerts = alertsmanager.NewService(c.AlertManagerURL)
	return nil
}

type supportedType map[string]struct{}

func (t supportedType) String() string {
	types := make([]string, 0, len(t))
	for tt := range t {
		types = append(types, tt)
	}
	return strings.Join(types, " | ")
}

func (t supportedType) supports(typeStr string) bool {
	_, ok := t[typeStr]
	return ok
}
