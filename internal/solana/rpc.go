package solana

import "context"

// RPCClient defines the Solana JSON-RPC HTTP surface the engine uses.
type RPCClient interface {
	// GetTransaction retrieves confirmed transaction detail by signature.
	// Returns (nil, nil) when the transaction is not yet available.
	GetTransaction(ctx context.Context, signature string) (*Transaction, error)

	// GetSignaturesForAddress retrieves recent signatures mentioning an address.
	GetSignaturesForAddress(ctx context.Context, address string, opts *SignaturesOpts) ([]SignatureInfo, error)

	// GetSlot retrieves the current confirmed slot.
	GetSlot(ctx context.Context) (int64, error)

	// GetLatestBlockhash retrieves a recent blockhash for transaction assembly.
	GetLatestBlockhash(ctx context.Context) (*Blockhash, error)

	// GetTokenSupply retrieves the total raw supply of a mint.
	GetTokenSupply(ctx context.Context, mint string) (*TokenAmount, error)

	// GetTokenAccountBalance retrieves the raw balance of a token account.
	// Returns (nil, nil) when the account does not exist.
	GetTokenAccountBalance(ctx context.Context, account string) (*TokenAmount, error)

	// SendTransaction submits a base64-encoded signed transaction and returns
	// its signature.
	SendTransaction(ctx context.Context, txBase64 string) (string, error)

	// SimulateTransaction dry-runs a base64-encoded signed transaction.
	SimulateTransaction(ctx context.Context, txBase64 string) (*SimulationResult, error)

	// GetSignatureStatuses retrieves confirmation status for signatures.
	GetSignatureStatuses(ctx context.Context, signatures []string) ([]*SignatureStatus, error)

	// GetRecentPrioritizationFees retrieves recent per-slot priority fees.
	GetRecentPrioritizationFees(ctx context.Context) ([]PrioritizationFee, error)
}

// Transaction is confirmed transaction detail as returned by getTransaction
// with full balance metadata.
type Transaction struct {
	Slot      int64
	Signature string
	BlockTime int64
	Meta      *TransactionMeta
	Message   *TransactionMessage
}

// TransactionMeta carries the pre/post balance snapshots the classifier
// attributes trades from.
type TransactionMeta struct {
	Err               interface{}
	LogMessages       []string
	PreBalances       []uint64
	PostBalances      []uint64
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
}

// TransactionMessage contains the parsed message account list. AccountKeys
// indices align with the balance arrays in TransactionMeta.
type TransactionMessage struct {
	AccountKeys []string
}

// TokenBalance is one entry of pre/postTokenBalances.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string
	Amount       uint64
}

// Blockhash is the result of getLatestBlockhash.
type Blockhash struct {
	Blockhash            string
	LastValidBlockHeight uint64
}

// TokenAmount is a raw token quantity with its mint decimals.
type TokenAmount struct {
	Amount   uint64
	Decimals uint8
}

// SimulationResult is the outcome of simulateTransaction.
type SimulationResult struct {
	Err  interface{}
	Logs []string
}

// Failed reports whether the simulated execution errored.
func (r *SimulationResult) Failed() bool { return r != nil && r.Err != nil }

// SignatureStatus is one entry of getSignatureStatuses.
type SignatureStatus struct {
	Slot               int64
	Confirmations      *int
	Err                interface{}
	ConfirmationStatus string
}

// Confirmed reports whether the transaction reached at least confirmed
// commitment without an execution error.
func (s *SignatureStatus) Confirmed() bool {
	if s == nil || s.Err != nil {
		return false
	}
	return s.ConfirmationStatus == "confirmed" || s.ConfirmationStatus == "finalized"
}

// PrioritizationFee is one entry of getRecentPrioritizationFees.
type PrioritizationFee struct {
	Slot              int64  `json:"slot"`
	PrioritizationFee uint64 `json:"prioritizationFee"`
}
