package relayer

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/privacypay/privacypay/chain"
	"github.com/privacypay/privacypay/log"
	"github.com/privacypay/privacypay/metrics"
)

// Field patterns, checked before anything touches the chain. Hashes are
// 32-byte hex, addresses 20-byte hex, amounts decimal digits only.
var (
	hex64Re   = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{64}$`)
	hex40Re   = regexp.MustCompile(`^(0x)?[0-9a-fA-F]{40}$`)
	decimalRe = regexp.MustCompile(`^\d+$`)
)

// ConverterResolver returns a converter client for the given contract
// address. The relayer serves every converter in the token registry through
// one resolver.
type ConverterResolver func(common.Address) (chain.Converter, error)

// mailEntry is one stored sealed payload awaiting its recipient.
type mailEntry struct {
	Commitment    common.Hash
	EncryptedData string
	StoredAt      time.Time
}

// ServerOptions configures a relayer server.
type ServerOptions struct {
	Resolver ConverterResolver
	// Waiter backs the status endpoint; optional.
	Waiter chain.ReceiptWaiter
	Logger *log.Logger
	// Metrics receives delivery and mailbox counters; a private registry is
	// created when nil.
	Metrics *metrics.Registry
}

// Server is the relayer service: it forwards spend transactions to the
// converter contracts and holds sealed payloads in a per-recipient mailbox
// until they are fetched. The mailbox is owned by the server value, with no
// package-level state, and reads are destructive: a fetched entry is
// gone.
type Server struct {
	mu      sync.Mutex
	mailbox map[common.Address][]mailEntry

	resolver ConverterResolver
	waiter   chain.ReceiptWaiter
	lg       *log.Logger

	reg        *metrics.Registry
	deliveries *metrics.Counter
	rejections *metrics.Counter
	drains     *metrics.Counter
	mailDepth  *metrics.Gauge
}

// NewServer creates a relayer server.
func NewServer(opts ServerOptions) *Server {
	lg := opts.Logger
	if lg == nil {
		lg = log.Default()
	}
	reg := opts.Metrics
	if reg == nil {
		reg = metrics.NewRegistry()
	}
	return &Server{
		mailbox:    make(map[common.Address][]mailEntry),
		resolver:   opts.Resolver,
		waiter:     opts.Waiter,
		lg:         lg.Module("relayer"),
		reg:        reg,
		deliveries: reg.Counter("relayer_deliveries_total"),
		rejections: reg.Counter("relayer_rejections_total"),
		drains:     reg.Counter("relayer_drains_total"),
		mailDepth:  reg.Gauge("relayer_mailbox_entries"),
	}
}

// Handler returns the HTTP surface of the relayer.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /sendEncryptedNote", s.handleSendEncryptedNote)
	mux.HandleFunc("GET /getEncryptedNotes", s.handleGetEncryptedNotes)
	mux.HandleFunc("POST /unshield", s.handleUnshield)
	mux.HandleFunc("POST /privateTransfer", s.handlePrivateTransfer)
	mux.HandleFunc("GET /status/{hash}", s.handleStatus)
	mux.Handle("GET /metrics", s.reg.Handler())
	return mux
}

// Raw request bodies are decoded into string fields and validated against
// the fixed-length patterns before being parsed into typed values, so a
// malformed field never reaches a contract call.

type rawSendEncryptedNote struct {
	RecipientWalletAddress string `json:"recipientWalletAddress"`
	EncryptedNotePayload   string `json:"encryptedNotePayload"`
	CommitmentForRecipient string `json:"commitmentForRecipient"`
	NullifierToSpend       string `json:"nullifierToSpend"`
	ConverterAddress       string `json:"converterAddress"`
}

type rawUnshield struct {
	Nullifier        string `json:"nullifier"`
	Recipient        string `json:"recipient"`
	Amount           string `json:"amount"`
	ConverterAddress string `json:"converterAddress"`
}

type rawPrivateTransfer struct {
	Nullifier        string `json:"nullifier"`
	NewCommitment    string `json:"newCommitment"`
	ConverterAddress string `json:"converterAddress"`
}

func (s *Server) handleSendEncryptedNote(w http.ResponseWriter, r *http.Request) {
	var req rawSendEncryptedNote
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body")
		return
	}
	if !hex40Re.MatchString(req.RecipientWalletAddress) ||
		!hex64Re.MatchString(req.CommitmentForRecipient) ||
		!hex64Re.MatchString(req.NullifierToSpend) ||
		!hex40Re.MatchString(req.ConverterAddress) {
		writeError(w, "malformed hex field")
		return
	}
	if req.EncryptedNotePayload == "" || !isBase64(req.EncryptedNotePayload) {
		writeError(w, "encrypted payload must be non-empty base64")
		return
	}

	converter := common.HexToAddress(req.ConverterAddress)
	recipient := common.HexToAddress(req.RecipientWalletAddress)
	commitment := common.HexToHash(normalizeHex(req.CommitmentForRecipient))
	nullifier := common.HexToHash(normalizeHex(req.NullifierToSpend))

	conv, err := s.resolver(converter)
	if err != nil {
		writeError(w, fmt.Sprintf("unknown converter: %v", err))
		return
	}
	txHash, err := conv.PrivateTransfer(r.Context(), nullifier, commitment)
	if err != nil {
		s.lg.Error("privateTransfer submission failed", "converter", converter, "err", err)
		s.rejections.Inc()
		writeError(w, fmt.Sprintf("privateTransfer failed: %v", err))
		return
	}

	// The payload is stored only once the chain call was accepted, so the
	// mailbox never advertises a note whose spend was never submitted.
	s.mu.Lock()
	s.mailbox[recipient] = append(s.mailbox[recipient], mailEntry{
		Commitment:    commitment,
		EncryptedData: req.EncryptedNotePayload,
		StoredAt:      time.Now(),
	})
	depth := s.mailboxSizeLocked()
	s.mu.Unlock()
	s.deliveries.Inc()
	s.mailDepth.Set(int64(depth))

	s.lg.Info("sealed note queued", "recipient", recipient, "tx", txHash)
	writeJSON(w, http.StatusOK, hashResponse{Hash: txHash})
}

func (s *Server) handleGetEncryptedNotes(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("userWalletAddress")
	if !hex40Re.MatchString(addr) {
		writeError(w, "userWalletAddress is not a 20-byte hex address")
		return
	}
	recipient := common.HexToAddress(addr)

	s.mu.Lock()
	entries := s.mailbox[recipient]
	delete(s.mailbox, recipient)
	depth := s.mailboxSizeLocked()
	s.mu.Unlock()
	if len(entries) > 0 {
		s.drains.Inc()
	}
	s.mailDepth.Set(int64(depth))

	notes := make([]EncryptedNote, 0, len(entries))
	for _, e := range entries {
		notes = append(notes, EncryptedNote{Commitment: e.Commitment, EncryptedData: e.EncryptedData})
	}
	if len(notes) > 0 {
		s.lg.Info("mailbox drained", "recipient", recipient, "entries", len(notes))
	}
	writeJSON(w, http.StatusOK, notesResponse{Notes: notes})
}

func (s *Server) handleUnshield(w http.ResponseWriter, r *http.Request) {
	var req rawUnshield
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body")
		return
	}
	if !hex64Re.MatchString(req.Nullifier) ||
		!hex40Re.MatchString(req.Recipient) ||
		!hex40Re.MatchString(req.ConverterAddress) {
		writeError(w, "malformed hex field")
		return
	}
	if !decimalRe.MatchString(req.Amount) {
		writeError(w, "amount must be a decimal integer string")
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, "amount out of range")
		return
	}

	conv, err := s.resolver(common.HexToAddress(req.ConverterAddress))
	if err != nil {
		writeError(w, fmt.Sprintf("unknown converter: %v", err))
		return
	}
	txHash, err := conv.Unshield(r.Context(), common.HexToHash(normalizeHex(req.Nullifier)), common.HexToAddress(req.Recipient), amount)
	if err != nil {
		s.lg.Error("unshield submission failed", "err", err)
		writeError(w, fmt.Sprintf("unshield failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: txHash})
}

func (s *Server) handlePrivateTransfer(w http.ResponseWriter, r *http.Request) {
	var req rawPrivateTransfer
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON body")
		return
	}
	if !hex64Re.MatchString(req.Nullifier) ||
		!hex64Re.MatchString(req.NewCommitment) ||
		!hex40Re.MatchString(req.ConverterAddress) {
		writeError(w, "malformed hex field")
		return
	}
	conv, err := s.resolver(common.HexToAddress(req.ConverterAddress))
	if err != nil {
		writeError(w, fmt.Sprintf("unknown converter: %v", err))
		return
	}
	txHash, err := conv.PrivateTransfer(r.Context(), common.HexToHash(normalizeHex(req.Nullifier)), common.HexToHash(normalizeHex(req.NewCommitment)))
	if err != nil {
		s.lg.Error("privateTransfer submission failed", "err", err)
		writeError(w, fmt.Sprintf("privateTransfer failed: %v", err))
		return
	}
	writeJSON(w, http.StatusOK, hashResponse{Hash: txHash})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hash := r.PathValue("hash")
	if !hex64Re.MatchString(hash) {
		writeError(w, "malformed transaction hash")
		return
	}
	if s.waiter == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "tx not found"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	if err := s.waiter.WaitConfirmed(ctx, common.HexToHash(normalizeHex(hash))); err != nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "tx not found"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "confirmed"})
}

// MailboxDepth reports the number of undelivered entries for an address.
func (s *Server) MailboxDepth(addr common.Address) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.mailbox[addr])
}

// mailboxSizeLocked counts undelivered entries across all recipients. Must
// be called with s.mu held.
func (s *Server) mailboxSizeLocked() int {
	total := 0
	for _, entries := range s.mailbox {
		total += len(entries)
	}
	return total
}

func normalizeHex(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s
	}
	return "0x" + s
}

func isBase64(s string) bool {
	_, err := base64.StdEncoding.DecodeString(s)
	return err == nil
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: msg})
}
