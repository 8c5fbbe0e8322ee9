package bridge

import "errors"

var (
	// ErrInsufficientBalance means the source wallet cannot cover the burn.
	ErrInsufficientBalance = errors.New("insufficient USDC balance")

	// ErrAttestationTimeout means the oracle did not deliver within the poll
	// window. The bridge record stays resumable.
	ErrAttestationTimeout = errors.New("timed out waiting for attestation")

	// ErrAlreadyCompleted means the bridge already minted; the stored record
	// is returned alongside so callers can display it.
	ErrAlreadyCompleted = errors.New("bridge already completed")

	// ErrNoStoredAttestation means mint was requested before the attestation
	// was fetched.
	ErrNoStoredAttestation = errors.New("no attestation stored for bridge")

	// ErrNotFound means no bridge record or ledger entry matches the hash.
	ErrNotFound = errors.New("bridge not found")
)
