package main

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"golang.org/x/sync/errgroup"

	donationhandler "sos/internal/donation/handler"
	fundhandler "sos/internal/fund/handler"
	fundpg "sos/internal/fund/store/postgres"
	governorhandler "sos/internal/governor/handler"
	governorpg "sos/internal/governor/store/postgres"
	jwttoken "sos/internal/jwt_token"
	"sos/internal/oracle/dispatch"
	"sos/internal/oracle/fulfillment"
	oraclehandler "sos/internal/oracle/handler"
	"sos/internal/platform/config"
	"sos/internal/platform/httpserver"
	"sos/internal/platform/kafka"
	"sos/internal/platform/logger"
	platformmetrics "sos/internal/platform/metrics"
	"sos/internal/platform/postgres"
	"sos/internal/platform/redis"
	registryhandler "sos/internal/registry/handler"
	registrypg "sos/internal/registry/store/postgres"
	registryredis "sos/internal/registry/store/redis"
	"sos/internal/stack"
	httptransport "sos/internal/transport/http"
	"sos/pkg/domain"
	"sos/pkg/platform/audit/consumer"
	"sos/pkg/platform/audit/publisher"
	auditmemory "sos/pkg/platform/audit/store/memory"
	auditpg "sos/pkg/platform/audit/store/postgres"
	"sos/pkg/platform/audit/worker"
	"sos/pkg/platform/circuit"
	"sos/pkg/platform/tx"
)

// main deploys the ledger stack, exposes it over HTTP and runs the Kafka
// workers when brokers are configured.
func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		log.Error("server stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Server, log *slog.Logger) error {
	deployer, err := domain.ParseAddress(cfg.Deployer)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	health := map[string]httptransport.HealthCheck{}

	db, err := postgres.Open(ctx, cfg.Postgres)
	if err != nil {
		return err
	}
	if db != nil {
		defer db.Close()
		health["postgres"] = db.Health
	}
	redisClient, err := redis.New(cfg.Redis)
	if err != nil {
		return err
	}
	if redisClient != nil {
		defer redisClient.Close()
		health["redis"] = redisClient.Health
	}

	var producer *kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		if err := kafka.EnsureTopics(ctx, cfg.Kafka.Brokers, 3, 1,
			cfg.Kafka.OracleTopic, cfg.Kafka.FulfillmentTopic, cfg.Kafka.AuditTopic); err != nil {
			return err
		}
		if producer, err = kafka.NewProducer(cfg.Kafka.Brokers); err != nil {
			return err
		}
		defer producer.Close()
		health["kafka"] = producer.Ping
	}

	// Durable audit goes through the outbox and Kafka; otherwise events stay
	// in memory where the admin routes can still read them.
	var (
		auditStore  httptransport.AuditLister
		auditSink   *publisher.Publisher
		outboxStore *auditpg.Store
	)
	if db != nil && producer != nil {
		outboxStore = auditpg.New(db.SQL)
		auditStore = outboxStore
		auditSink = publisher.NewPublisher(outboxStore, publisher.WithLogger(log))
	} else {
		mem := auditmemory.NewInMemoryStore()
		auditStore = mem
		auditSink = publisher.NewPublisher(mem, publisher.WithAsyncBuffer(1024), publisher.WithLogger(log))
	}
	defer auditSink.Close()

	opts := stack.Options{
		Deployer:   deployer,
		Ledger:     tx.NewLedger(tx.WithTimeout(cfg.LedgerTimeout)),
		Logger:     log,
		Publisher:  auditSink,
		Registerer: reg,
		Breaker:    circuit.New("oracle-dispatch"),
	}
	switch {
	case db != nil:
		opts.Stores = stack.Stores{
			Registry: registrypg.New(db.SQL),
			Funds:    fundpg.New(db.Pool),
			Requests: governorpg.New(db.Pool),
		}
	case redisClient != nil:
		opts.Stores.Registry = registryredis.New(redisClient.Client, "")
	}
	if producer != nil {
		opts.Dispatcher = dispatch.NewKafka(producer, cfg.Kafka.OracleTopic)
	}
	if cfg.Oracle.Address != "" {
		if opts.Oracle, err = domain.ParseAddress(cfg.Oracle.Address); err != nil {
			return err
		}
		if cfg.Oracle.JobID != "" {
			if opts.OracleJobID, err = domain.NameFromString(cfg.Oracle.JobID); err != nil {
				return err
			}
		}
		opts.OracleFee = big.NewInt(cfg.Oracle.Fee)
	}

	st, err := stack.Deploy(ctx, opts)
	if err != nil {
		return err
	}
	if cfg.SeedStack {
		if _, err := st.SeedFunds(ctx, deployer); err != nil {
			return err
		}
	}

	jwtService := jwttoken.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	validator := jwttoken.NewJWTServiceAdapter(jwtService)
	router := httptransport.NewRouter(httptransport.Config{
		Logger:     log,
		Latency:    platformmetrics.New(reg),
		Gatherer:   reg,
		AdminToken: cfg.AdminToken,
		Admin:      httptransport.NewAdminHandler(jwtService, auditStore, components(st), log),
		Health:     health,
	},
		registryhandler.New(st.Registry, log, validator),
		fundhandler.New(st.Funds, log, validator),
		donationhandler.New(st.Donation, st.SOS, log, validator),
		governorhandler.New(st.Governor, log, validator),
		oraclehandler.New(st.Oracle, log, validator),
	)
	srv := httpserver.New(cfg.Addr, router)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting sos ledger", "addr", cfg.Addr, "deployer", deployer.Hex())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if producer != nil {
		fulfilments, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-oracle",
			[]string{cfg.Kafka.FulfillmentTopic}, log)
		if err != nil {
			return err
		}
		defer fulfilments.Close()
		g.Go(func() error {
			return ignoreCanceled(fulfilments.Run(ctx, fulfillment.NewHandler(st.Oracle, log)))
		})
	}
	if outboxStore != nil {
		relay := worker.NewOutboxRelay(outboxStore, producer, cfg.Kafka.AuditTopic, log)
		g.Go(func() error { return ignoreCanceled(relay.Run(ctx)) })

		auditConsumer, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup+"-audit",
			[]string{cfg.Kafka.AuditTopic}, log)
		if err != nil {
			return err
		}
		defer auditConsumer.Close()
		auditRouter := consumer.NewRouter(log, nil)
		auditRouter.Register(cfg.Kafka.AuditTopic, consumer.NewMaterializer(outboxStore, log))
		g.Go(func() error { return ignoreCanceled(auditConsumer.Run(ctx, auditRouter)) })
	}

	return g.Wait()
}

func components(st *stack.Stack) map[string]common.Address {
	return map[string]common.Address{
		"REGISTRY":                  st.RegistryAddress,
		"FUND_MANAGER":              st.Funds.Address(),
		"DONATION":                  st.Donation.Address(),
		"NFT_DESCRIPTOR":            st.Descriptor.Address(),
		"SOS":                       st.SOS.Address(),
		"GOVERNOR":                  st.Governor.Address(),
		"GNOSIS_SAFE_PROXY_FACTORY": st.Safes.Address(),
		"ORACLE_CONSUMER":           st.Oracle.Address(),
		"CHAINLINK_TOKEN":           st.Link,
		"BASIC_TOKEN":               st.Token,
	}
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
