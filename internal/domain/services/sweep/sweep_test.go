package sweep

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rail-service/settlement_service/internal/adapters/bundler"
	"github.com/rail-service/settlement_service/internal/adapters/chain"
	"github.com/rail-service/settlement_service/internal/domain/entities"
	domainerrors "github.com/rail-service/settlement_service/internal/domain/errors"
	"github.com/rail-service/settlement_service/pkg/logger"
)

var (
	usdc          = entities.Token{Symbol: "USDC", Address: "0x833589fCD6eDb6E08f4c7C32D4f71b54bdA02913", Decimals: 6}
	pool          = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	factory       = common.HexToAddress("0x9406Cc6185a346906296840746125a0E44976454")
	entryPoint    = common.HexToAddress("0x5FF137D4b0FDCD49DcA30c7CF57E578a026d2789")
	paymasterStub = append(common.HexToAddress("0x0000000000000000000000000000000000000b0b").Bytes(), make([]byte, 64)...)
)

type fixedProber struct {
	balance *big.Int
	calls   int
}

func (p *fixedProber) Probe(context.Context, string, entities.Token) (*big.Int, error) {
	p.calls++
	return p.balance, nil
}

type fakeSweeper struct {
	mode      entities.SweepMode
	submitErr error
	submitted int
}

func (f *fakeSweeper) Mode() entities.SweepMode { return f.mode }

func (f *fakeSweeper) Submit(context.Context, Request, *big.Int) (common.Hash, error) {
	f.submitted++
	if f.submitErr != nil {
		return common.Hash{}, f.submitErr
	}
	return common.HexToHash("0x01"), nil
}

func (f *fakeSweeper) Await(context.Context, common.Hash) (common.Hash, error) {
	return common.HexToHash("0x02"), nil
}

func smartCustody() *entities.CustodyAddress {
	nonce := int64(0)
	return &entities.CustodyAddress{
		UserRef:      "user-1",
		Address:      "0x00000000000000000000000000000000000000c3",
		Strategy:     entities.DerivationStrategySmartAccount,
		AccountNonce: &nonce,
	}
}

func newKey(t *testing.T) *ecdsa.PrivateKey {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return key
}

func TestExecutor_DustMakesNoOnChainCall(t *testing.T) {
	for _, amount := range []int64{0, 1, 9_999} {
		sponsored := &fakeSweeper{mode: entities.SweepModeSponsored}
		funded := &fakeSweeper{mode: entities.SweepModeFunded}
		e := NewExecutor(&fixedProber{balance: big.NewInt(amount)}, sponsored, funded,
			Config{MinAmount: decimal.RequireFromString("0.01")}, logger.NewNop())

		_, err := e.Sweep(context.Background(), Request{Custody: smartCustody(), Token: usdc})
		assert.ErrorIs(t, err, domainerrors.ErrInsufficientBalance)
		assert.False(t, domainerrors.IsRetryable(err))
		assert.Zero(t, sponsored.submitted)
		assert.Zero(t, funded.submitted)
	}
}

func TestExecutor_PrefersSponsored(t *testing.T) {
	sponsored := &fakeSweeper{mode: entities.SweepModeSponsored}
	funded := &fakeSweeper{mode: entities.SweepModeFunded}
	e := NewExecutor(&fixedProber{balance: big.NewInt(100_000_000)}, sponsored, funded,
		Config{MinAmount: decimal.RequireFromString("0.01"), FundedFallback: true}, logger.NewNop())

	result, err := e.Sweep(context.Background(), Request{Custody: smartCustody(), Token: usdc})
	require.NoError(t, err)
	assert.Equal(t, entities.SweepModeSponsored, result.Mode)
	assert.Equal(t, int64(100_000_000), result.Amount.Int64())
	assert.Equal(t, common.HexToHash("0x02"), result.TxHash)
	assert.Zero(t, funded.submitted)
}

func TestExecutor_FallsBackWhenSponsorshipUnavailable(t *testing.T) {
	sponsored := &fakeSweeper{mode: entities.SweepModeSponsored, submitErr: domainerrors.ErrSponsorshipUnavailable}
	funded := &fakeSweeper{mode: entities.SweepModeFunded}
	e := NewExecutor(&fixedProber{balance: big.NewInt(100_000_000)}, sponsored, funded,
		Config{MinAmount: decimal.RequireFromString("0.01"), FundedFallback: true}, logger.NewNop())

	result, err := e.Sweep(context.Background(), Request{Custody: smartCustody(), Token: usdc})
	require.NoError(t, err)
	assert.Equal(t, entities.SweepModeFunded, result.Mode)
	assert.Equal(t, 1, sponsored.submitted)
	assert.Equal(t, 1, funded.submitted)
}

func TestExecutor_NoFallbackOnOtherErrors(t *testing.T) {
	sponsored := &fakeSweeper{mode: entities.SweepModeSponsored, submitErr: domainerrors.TransientRPCError("send", errors.New("boom"))}
	funded := &fakeSweeper{mode: entities.SweepModeFunded}
	e := NewExecutor(&fixedProber{balance: big.NewInt(100_000_000)}, sponsored, funded,
		Config{MinAmount: decimal.RequireFromString("0.01"), FundedFallback: true}, logger.NewNop())

	_, err := e.Sweep(context.Background(), Request{Custody: smartCustody(), Token: usdc})
	assert.ErrorIs(t, err, domainerrors.ErrTransientRPC)
	assert.Zero(t, funded.submitted)
}

func TestExecutor_SponsoredOnlyDoesNotFallBack(t *testing.T) {
	sponsored := &fakeSweeper{mode: entities.SweepModeSponsored, submitErr: domainerrors.ErrSponsorshipUnavailable}
	funded := &fakeSweeper{mode: entities.SweepModeFunded}
	e := NewExecutor(&fixedProber{balance: big.NewInt(100_000_000)}, sponsored, funded,
		Config{Mode: ModeSponsored, MinAmount: decimal.RequireFromString("0.01")}, logger.NewNop())

	_, err := e.Sweep(context.Background(), Request{Custody: smartCustody(), Token: usdc})
	assert.ErrorIs(t, err, domainerrors.ErrSponsorshipUnavailable)
	assert.Zero(t, funded.submitted)
}

func TestExecutor_HDCustodyIsAlwaysFunded(t *testing.T) {
	sponsored := &fakeSweeper{mode: entities.SweepModeSponsored}
	funded := &fakeSweeper{mode: entities.SweepModeFunded}
	e := NewExecutor(&fixedProber{balance: big.NewInt(100_000_000)}, sponsored, funded,
		Config{MinAmount: decimal.RequireFromString("0.01")}, logger.NewNop())

	custody := &entities.CustodyAddress{Address: "0x00000000000000000000000000000000000000c4", Strategy: entities.DerivationStrategyHD}
	result, err := e.Sweep(context.Background(), Request{Custody: custody, Token: usdc})
	require.NoError(t, err)
	assert.Equal(t, entities.SweepModeFunded, result.Mode)
	assert.Zero(t, sponsored.submitted)
}

// fakeAccountChain serves the reads of a sponsored sweep
type fakeAccountChain struct {
	code      []byte
	account   common.Address
	sent      []sentTx
	balance   *big.Int
	status    uint64
	gasPrice  *big.Int
	callCount map[string]int
}

type sentTx struct {
	from  common.Address
	to    common.Address
	value *big.Int
	data  []byte
	gas   uint64
}

func (f *fakeAccountChain) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if f.callCount == nil {
		f.callCount = make(map[string]int)
	}
	switch {
	case *msg.To == factory:
		f.callCount["getAddress"]++
		return chain.AccountFactoryABI.Methods["getAddress"].Outputs.Pack(f.account)
	case *msg.To == entryPoint:
		f.callCount["getNonce"]++
		return chain.EntryPointABI.Methods["getNonce"].Outputs.Pack(big.NewInt(0))
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeAccountChain) CodeAt(context.Context, common.Address) ([]byte, error) { return f.code, nil }

func (f *fakeAccountChain) FeeData(context.Context) (*big.Int, *big.Int, error) {
	return big.NewInt(2_000_000_000), big.NewInt(1_000_000), nil
}

func (f *fakeAccountChain) ChainID() *big.Int { return big.NewInt(8453) }

func (f *fakeAccountChain) BalanceAt(context.Context, common.Address) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeAccountChain) SuggestGasPrice(context.Context) (*big.Int, error) { return f.gasPrice, nil }

func (f *fakeAccountChain) SendLegacy(_ context.Context, key *ecdsa.PrivateKey, to common.Address, value *big.Int, data []byte, gas uint64) (common.Hash, error) {
	f.sent = append(f.sent, sentTx{from: crypto.PubkeyToAddress(key.PublicKey), to: to, value: value, data: data, gas: gas})
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeAccountChain) WaitMined(_ context.Context, hash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: f.status, TxHash: hash}, nil
}

type fakeBundler struct {
	sponsorErr error
	estimated  []byte
	sent       *bundler.UserOperation
	receipt    *bundler.Receipt
}

func (b *fakeBundler) EntryPoint() common.Address { return entryPoint }

func (b *fakeBundler) EstimateGas(_ context.Context, op *bundler.UserOperation) (*bundler.GasEstimate, error) {
	b.estimated = append([]byte(nil), op.PaymasterAndData...)
	return &bundler.GasEstimate{
		PreVerificationGas:   (*hexutil.Big)(big.NewInt(50_000)),
		VerificationGasLimit: (*hexutil.Big)(big.NewInt(400_000)),
		CallGasLimit:         (*hexutil.Big)(big.NewInt(80_000)),
	}, nil
}

func (b *fakeBundler) Sponsor(context.Context, *bundler.UserOperation) (*bundler.Sponsorship, error) {
	if b.sponsorErr != nil {
		return nil, b.sponsorErr
	}
	return &bundler.Sponsorship{PaymasterAndData: hexutil.Bytes(common.HexToAddress("0x0000000000000000000000000000000000000b0b").Bytes())}, nil
}

func (b *fakeBundler) Send(_ context.Context, op *bundler.UserOperation) (common.Hash, error) {
	b.sent = op
	return common.HexToHash("0xabc"), nil
}

func (b *fakeBundler) WaitReceipt(context.Context, common.Hash) (*bundler.Receipt, error) {
	return b.receipt, nil
}

func TestSponsoredSweeper_DeploysUndeployedAccount(t *testing.T) {
	owner := newKey(t)
	custody := smartCustody()
	c := &fakeAccountChain{account: common.HexToAddress(custody.Address)}
	b := &fakeBundler{}
	s := NewSponsoredSweeper(b, c, factory, pool, paymasterStub, logger.NewNop())

	hash, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: owner, Token: usdc}, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xabc"), hash)

	require.NotNil(t, b.sent)
	assert.Equal(t, factory.Bytes(), b.sent.InitCode[:20])
	assert.Equal(t, chain.SimpleAccountABI.Methods["execute"].ID, b.sent.CallData[:4])
	assert.NotEmpty(t, b.sent.PaymasterAndData)
	assert.Equal(t, int64(80_000), b.sent.CallGasLimit.Int64())
	assert.Len(t, b.sent.Signature, 65)

	opHash, err := b.sent.Hash(entryPoint, big.NewInt(8453))
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, opHash)
}

func TestSponsoredSweeper_EstimatesWithPaymasterStub(t *testing.T) {
	custody := smartCustody()
	c := &fakeAccountChain{code: []byte{0x60, 0x80}}
	b := &fakeBundler{}
	s := NewSponsoredSweeper(b, c, factory, pool, paymasterStub, logger.NewNop())

	_, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: newKey(t), Token: usdc}, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Equal(t, paymasterStub, b.estimated, "gas is estimated with the paymaster in place")
	assert.Equal(t, common.HexToAddress("0x0000000000000000000000000000000000000b0b").Bytes(), []byte(b.sent.PaymasterAndData),
		"the sponsor's data replaces the stub")
}

func TestSponsoredSweeper_DeployedAccountHasNoInitCode(t *testing.T) {
	custody := smartCustody()
	c := &fakeAccountChain{code: []byte{0x60, 0x80}}
	b := &fakeBundler{}
	s := NewSponsoredSweeper(b, c, factory, pool, paymasterStub, logger.NewNop())

	_, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: newKey(t), Token: usdc}, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Empty(t, b.sent.InitCode)
	assert.Zero(t, c.callCount["getAddress"])
}

func TestSponsoredSweeper_FactoryMismatch(t *testing.T) {
	c := &fakeAccountChain{account: common.HexToAddress("0x00000000000000000000000000000000000000ee")}
	s := NewSponsoredSweeper(&fakeBundler{}, c, factory, pool, paymasterStub, logger.NewNop())

	_, err := s.Submit(context.Background(), Request{Custody: smartCustody(), OwnerKey: newKey(t), Token: usdc}, big.NewInt(1))
	assert.ErrorIs(t, err, domainerrors.ErrNonceMismatch)
}

func TestSponsoredSweeper_SponsorshipUnavailable(t *testing.T) {
	custody := smartCustody()
	c := &fakeAccountChain{account: common.HexToAddress(custody.Address)}
	s := NewSponsoredSweeper(&fakeBundler{sponsorErr: errors.New("policy exhausted")}, c, factory, pool, paymasterStub, logger.NewNop())

	_, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: newKey(t), Token: usdc}, big.NewInt(1))
	assert.ErrorIs(t, err, domainerrors.ErrSponsorshipUnavailable)
}

func TestSponsoredSweeper_Await(t *testing.T) {
	b := &fakeBundler{receipt: &bundler.Receipt{Success: false, Reason: "AA21 didn't pay prefund"}}
	s := NewSponsoredSweeper(b, &fakeAccountChain{}, factory, pool, paymasterStub, logger.NewNop())

	_, err := s.Await(context.Background(), common.HexToHash("0xabc"))
	assert.ErrorIs(t, err, domainerrors.ErrSweepFailed)
	assert.Contains(t, err.Error(), "AA21")

	b.receipt = &bundler.Receipt{Success: true}
	b.receipt.Receipt.TransactionHash = common.HexToHash("0xdef")
	txHash, err := s.Await(context.Background(), common.HexToHash("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, common.HexToHash("0xdef"), txHash)
}

func TestFundedSweeper_TopsUpThenTransfers(t *testing.T) {
	reserve := newKey(t)
	custodyKey := newKey(t)
	custody := &entities.CustodyAddress{Address: crypto.PubkeyToAddress(custodyKey.PublicKey).Hex(), Strategy: entities.DerivationStrategyHD}
	c := &fakeAccountChain{balance: big.NewInt(1_000), status: types.ReceiptStatusSuccessful}
	s := NewFundedSweeper(c, reserve, factory, pool, big.NewInt(200_000), logger.NewNop())

	hash, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: custodyKey, Token: usdc}, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Len(t, c.sent, 2)

	assert.Equal(t, crypto.PubkeyToAddress(reserve.PublicKey), c.sent[0].from)
	assert.Equal(t, int64(199_000), c.sent[0].value.Int64())
	assert.Equal(t, crypto.PubkeyToAddress(custodyKey.PublicKey), c.sent[1].from)
	assert.Equal(t, common.HexToAddress(usdc.Address), c.sent[1].to)
	assert.Equal(t, chain.ERC20ABI.Methods["transfer"].ID, c.sent[1].data[:4])

	mined, err := s.Await(context.Background(), hash)
	require.NoError(t, err)
	assert.Equal(t, hash, mined)
}

func TestFundedSweeper_SkipsTopUpWhenFunded(t *testing.T) {
	custodyKey := newKey(t)
	custody := &entities.CustodyAddress{Address: crypto.PubkeyToAddress(custodyKey.PublicKey).Hex(), Strategy: entities.DerivationStrategyHD}
	c := &fakeAccountChain{balance: big.NewInt(500_000), status: types.ReceiptStatusSuccessful}
	s := NewFundedSweeper(c, newKey(t), factory, pool, big.NewInt(200_000), logger.NewNop())

	_, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: custodyKey, Token: usdc}, big.NewInt(1_000_000))
	require.NoError(t, err)
	assert.Len(t, c.sent, 1)
}

func TestFundedSweeper_NativeKeepsGasAllowance(t *testing.T) {
	custodyKey := newKey(t)
	custody := &entities.CustodyAddress{Address: crypto.PubkeyToAddress(custodyKey.PublicKey).Hex(), Strategy: entities.DerivationStrategyHD}
	eth := entities.Token{Symbol: "ETH", Address: entities.NativeTokenAddress, Decimals: 18}
	c := &fakeAccountChain{gasPrice: big.NewInt(10), status: types.ReceiptStatusSuccessful}
	s := NewFundedSweeper(c, nil, factory, pool, big.NewInt(0), logger.NewNop())

	_, err := s.Submit(context.Background(), Request{Custody: custody, OwnerKey: custodyKey, Token: eth}, big.NewInt(1_000_000))
	require.NoError(t, err)
	require.Len(t, c.sent, 1)
	assert.Equal(t, pool, c.sent[0].to)
	assert.Equal(t, int64(1_000_000-2*21000*10), c.sent[0].value.Int64())

	_, err = s.Submit(context.Background(), Request{Custody: custody, OwnerKey: custodyKey, Token: eth}, big.NewInt(100))
	assert.ErrorIs(t, err, domainerrors.ErrInsufficientBalance)
}
