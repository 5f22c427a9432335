// Package stack deploys every ledger component, wires them to each other
// and records them in the registry.
package stack

import (
	"context"
	"log/slog"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/prometheus/client_golang/prometheus"

	donationmetrics "sos/internal/donation/metrics"
	donationservice "sos/internal/donation/service"
	"sos/internal/donation/sos"
	fundmetrics "sos/internal/fund/metrics"
	fundmodels "sos/internal/fund/models"
	fundservice "sos/internal/fund/service"
	fundmemory "sos/internal/fund/store/memory"
	governormetrics "sos/internal/governor/metrics"
	governorservice "sos/internal/governor/service"
	governormemory "sos/internal/governor/store/memory"
	"sos/internal/oracle/dispatch"
	oraclemetrics "sos/internal/oracle/metrics"
	oracleservice "sos/internal/oracle/service"
	registrymetrics "sos/internal/registry/metrics"
	registryservice "sos/internal/registry/service"
	registrymemory "sos/internal/registry/store/memory"
	safeservice "sos/internal/safe/service"
	tokenservice "sos/internal/token/service"
	"sos/pkg/domain"
	dErrors "sos/pkg/domain-errors"
	audit "sos/pkg/platform/audit"
	"sos/pkg/platform/circuit"
	"sos/pkg/platform/tx"
)

// Names of the deployable components. Each address is derived from the
// deployer and the component name, so a deployment is reproducible.
const (
	componentRegistry       = "Registry"
	componentFundManager    = "FundManager"
	componentDescriptor     = "NFTDescriptor"
	componentDonation       = "Donation"
	componentSOS            = "SOS"
	componentGovernor       = "Governor"
	componentSafeFactory    = "GnosisSafeProxyFactory"
	componentOracleConsumer = "OracleConsumer"
)

var deploymentSalt = crypto.Keccak256Hash([]byte("sos.deployment.v1"))

// ComponentAddress is the address component gets when deployed by deployer.
func ComponentAddress(deployer common.Address, component string) common.Address {
	return crypto.CreateAddress2(deployer, deploymentSalt, crypto.Keccak256([]byte(component)))
}

type AuditPublisher interface {
	Emit(ctx context.Context, event audit.Event) error
}

// Stores selects the persistence of the stateful components. Nil fields
// fall back to memory.
type Stores struct {
	Registry registryservice.Store
	Funds    fundservice.Store
	Requests governorservice.Store
}

type Options struct {
	Deployer common.Address
	Ledger   *tx.Ledger
	Stores   Stores
	Logger   *slog.Logger
	// Publisher receives every component's audit events.
	Publisher AuditPublisher
	// Registerer enables per component metrics when set.
	Registerer prometheus.Registerer
	// Dispatcher carries oracle requests to the node. Defaults to memory.
	Dispatcher dispatch.Dispatcher
	// Breaker guards Dispatcher when set.
	Breaker *circuit.Breaker

	// GovernorChecks are snapshotted for funds without checks of their own.
	GovernorChecks []domain.Name
	// SOSMinter overrides the donation service as the SOS minter.
	SOSMinter common.Address

	Oracle      common.Address
	OracleJobID domain.Name
	OracleFee   *big.Int
	// LinkSupply is minted to the deployer when LINK is deployed.
	LinkSupply *big.Int
	// TokenSupply is the deployer's balance of the Basic test token.
	TokenSupply *big.Int
}

// Stack is a deployed set of components.
type Stack struct {
	Deployer common.Address
	Ledger   *tx.Ledger

	Registry        *registryservice.Service
	RegistryAddress common.Address
	Tokens          *tokenservice.Service
	Safes           *safeservice.Factory
	Funds           *fundservice.Service
	Descriptor      *sos.Descriptor
	SOS             *sos.Service
	Donation        *donationservice.Service
	Governor        *governorservice.Service
	Oracle          *oracleservice.Service
	Dispatcher      dispatch.Dispatcher

	// Token is the Basic test ERC-20 and Link the fee token.
	Token common.Address
	Link  common.Address
}

// Deploy builds the stack and registers it. The deployer owns the registry,
// the SOS collection and the oracle consumer.
func Deploy(ctx context.Context, opts Options) (*Stack, error) {
	if opts.Deployer == (common.Address{}) {
		return nil, dErrors.New(dErrors.CodeValidation, "deployer is required")
	}
	if opts.Ledger == nil {
		opts.Ledger = tx.NewLedger()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = dispatch.NewMemory(64)
	}
	if opts.Stores.Registry == nil {
		opts.Stores.Registry = registrymemory.New()
	}
	if opts.Stores.Funds == nil {
		opts.Stores.Funds = fundmemory.New()
	}
	if opts.Stores.Requests == nil {
		opts.Stores.Requests = governormemory.New()
	}
	if opts.TokenSupply == nil {
		opts.TokenSupply = big.NewInt(1_000_000)
	}
	if opts.LinkSupply == nil {
		opts.LinkSupply = domain.MustParseUnits("1000", 18)
	}

	deployer := opts.Deployer
	ledger := opts.Ledger
	addr := func(component string) common.Address { return ComponentAddress(deployer, component) }
	logger := func(component string) *slog.Logger { return opts.Logger.With("component", component) }

	st := &Stack{
		Deployer:        deployer,
		Ledger:          ledger,
		Dispatcher:      opts.Dispatcher,
		RegistryAddress: addr(componentRegistry),
	}

	registryOpts := []registryservice.Option{registryservice.WithLogger(logger(componentRegistry))}
	fundOpts := []fundservice.Option{fundservice.WithLogger(logger(componentFundManager))}
	donationOpts := []donationservice.Option{donationservice.WithLogger(logger(componentDonation))}
	governorOpts := []governorservice.Option{governorservice.WithLogger(logger(componentGovernor))}
	oracleOpts := []oracleservice.Option{
		oracleservice.WithLogger(logger(componentOracleConsumer)),
		oracleservice.WithOracle(opts.Oracle, opts.OracleJobID, opts.OracleFee),
	}
	tokenOpts := []tokenservice.Option{tokenservice.WithLogger(logger("Token"))}
	safeOpts := []safeservice.Option{safeservice.WithLogger(logger(componentSafeFactory))}
	sosOpts := []sos.Option{sos.WithLogger(logger(componentSOS))}

	if opts.Publisher != nil {
		registryOpts = append(registryOpts, registryservice.WithAuditPublisher(opts.Publisher))
		fundOpts = append(fundOpts, fundservice.WithAuditPublisher(opts.Publisher))
		donationOpts = append(donationOpts, donationservice.WithAuditPublisher(opts.Publisher))
		governorOpts = append(governorOpts, governorservice.WithAuditPublisher(opts.Publisher))
		oracleOpts = append(oracleOpts, oracleservice.WithAuditPublisher(opts.Publisher))
		tokenOpts = append(tokenOpts, tokenservice.WithAuditPublisher(opts.Publisher))
		safeOpts = append(safeOpts, safeservice.WithAuditPublisher(opts.Publisher))
		sosOpts = append(sosOpts, sos.WithAuditPublisher(opts.Publisher))
	}
	var oracleMetrics *oraclemetrics.Metrics
	if reg := opts.Registerer; reg != nil {
		oracleMetrics = oraclemetrics.New(reg)
		registryOpts = append(registryOpts, registryservice.WithMetrics(registrymetrics.New(reg)))
		fundOpts = append(fundOpts, fundservice.WithMetrics(fundmetrics.New(reg)))
		donationOpts = append(donationOpts, donationservice.WithMetrics(donationmetrics.New(reg)))
		governorOpts = append(governorOpts, governorservice.WithMetrics(governormetrics.New(reg)))
		oracleOpts = append(oracleOpts, oracleservice.WithMetrics(oracleMetrics))
	}
	if opts.Breaker != nil {
		breakerLog := logger("OracleDispatch")
		st.Dispatcher = dispatch.NewGuarded(opts.Dispatcher, opts.Breaker, func(open bool) {
			breakerLog.Warn("oracle dispatch breaker changed state", "open", open)
			if oracleMetrics != nil {
				oracleMetrics.ObserveBreaker(open)
			}
		})
	}
	if len(opts.GovernorChecks) > 0 {
		governorOpts = append(governorOpts, governorservice.WithDefaultChecks(opts.GovernorChecks))
	}

	st.Registry = registryservice.New(deployer, ledger, opts.Stores.Registry, registryOpts...)
	st.Tokens = tokenservice.New(ledger, tokenOpts...)
	st.Safes = safeservice.New(addr(componentSafeFactory), ledger, safeOpts...)
	st.Funds = fundservice.New(addr(componentFundManager), ledger, opts.Stores.Funds, st.Registry, st.Safes, st.Tokens, fundOpts...)
	st.Descriptor = sos.NewDescriptor(addr(componentDescriptor))

	minter := opts.SOSMinter
	if minter == (common.Address{}) {
		minter = addr(componentDonation)
	}
	st.SOS = sos.New(addr(componentSOS), deployer, minter, ledger, st.Funds, st.Descriptor, sosOpts...)
	st.Donation = donationservice.New(addr(componentDonation), ledger, st.Registry, st.Funds, st.Tokens, st.SOS, donationOpts...)
	st.Oracle = oracleservice.New(addr(componentOracleConsumer), deployer, ledger, st.Registry, st.Tokens, st.Dispatcher, oracleOpts...)
	governorOpts = append(governorOpts, governorservice.WithOracle(st.Oracle))
	st.Governor = governorservice.New(addr(componentGovernor), ledger, opts.Stores.Requests, st.Funds, st.Registry, governorOpts...)
	st.Oracle.BindFulfiller(st.Governor)

	var err error
	if st.Token, err = st.Tokens.Deploy(ctx, deployer, "Basic", "BSC", 18, opts.TokenSupply); err != nil {
		return nil, err
	}
	if st.Link, err = st.Tokens.Deploy(ctx, deployer, "ChainLink Token", "LINK", 18, opts.LinkSupply); err != nil {
		return nil, err
	}

	names := []domain.Name{
		domain.NameFundManager,
		domain.NameDonation,
		domain.NameNFTDescriptor,
		domain.NameSOS,
		domain.NameGovernor,
		domain.NameGnosisSafeProxyFactory,
		domain.NameOracleConsumer,
		domain.NameChainlinkToken,
	}
	addrs := []common.Address{
		st.Funds.Address(),
		st.Donation.Address(),
		st.Descriptor.Address(),
		st.SOS.Address(),
		st.Governor.Address(),
		st.Safes.Address(),
		st.Oracle.Address(),
		st.Link,
	}
	if opts.Oracle != (common.Address{}) {
		names = append(names, domain.NameOracle)
		addrs = append(addrs, opts.Oracle)
	}
	if err := st.register(ctx, names, addrs); err != nil {
		return nil, err
	}

	opts.Logger.InfoContext(ctx, "stack deployed",
		"deployer", deployer.Hex(),
		"registry", st.RegistryAddress.Hex(),
		"fund_manager", st.Funds.Address().Hex(),
		"governor", st.Governor.Address().Hex(),
		"token", st.Token.Hex(),
		"link", st.Link.Hex(),
	)
	return st, nil
}

// register maps names that are new and repoints names a durable registry
// store kept from an earlier run. Entries already correct are left alone.
func (st *Stack) register(ctx context.Context, names []domain.Name, addrs []common.Address) error {
	current, err := st.Registry.BatchGet(ctx, names)
	if err != nil {
		return err
	}
	var newNames, movedNames []domain.Name
	var newAddrs, movedAddrs []common.Address
	for i, name := range names {
		switch current[i] {
		case addrs[i]:
		case common.Address{}:
			newNames, newAddrs = append(newNames, name), append(newAddrs, addrs[i])
		default:
			movedNames, movedAddrs = append(movedNames, name), append(movedAddrs, addrs[i])
		}
	}
	if len(newNames) > 0 {
		if err := st.Registry.BatchRegister(ctx, st.Deployer, newNames, newAddrs); err != nil {
			return err
		}
	}
	if len(movedNames) > 0 {
		if err := st.Registry.BatchUpdate(ctx, st.Deployer, movedNames, movedAddrs); err != nil {
			return err
		}
	}
	return nil
}

// FundOracle moves amount LINK from the deployer to the oracle consumer.
func (st *Stack) FundOracle(ctx context.Context, amount *big.Int) error {
	return st.Tokens.Transfer(ctx, st.Deployer, st.Link, st.Oracle.Address(), amount)
}

// SeedFunds creates the two demo funds accepting the Basic token, both held
// by safe.
func (st *Stack) SeedFunds(ctx context.Context, safe common.Address) ([]domain.FundID, error) {
	seeds := []fundmodels.Meta{
		{Name: "Fund 001", Focus: "Focus A", Description: "Description Text"},
		{Name: "Fund 002", Focus: "Focus B", Description: "Description Text"},
	}
	ids := make([]domain.FundID, 0, len(seeds))
	for _, meta := range seeds {
		id, err := st.Funds.CreateFund(ctx, st.Deployer, fundmodels.Params{
			Meta:          meta,
			Safe:          safe,
			AllowedTokens: []common.Address{st.Token},
			Requestable:   true,
		})
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
