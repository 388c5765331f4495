package domain

import (
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// MVKind is the kind of materialized view tracked by the Materialized View
// Manager (C8).
type MVKind string

const (
	MVKindSourceSelection MVKind = "source_selection" // name component: "source"
	MVKindBufferedSource  MVKind = "buffered_source"  // name component: "buffered"
	MVKindFilterChain     MVKind = "filter_chain"     // name component: "filter_chain"
)

// nameComponent returns the token used inside the MV name for this kind, per
// spec §6's wire-exact naming regex
// fm_temp_(source|buffered|filter_chain|mv)_<8hex>_<8hex>.
func (k MVKind) nameComponent() string {
	switch k {
	case MVKindSourceSelection:
		return "source"
	case MVKindBufferedSource:
		return "buffered"
	case MVKindFilterChain:
		return "filter_chain"
	default:
		return "mv"
	}
}

// MaterializedView is a session-scoped, name-spaced cached query result
// tracked by C8 (spec DATA MODEL, MaterializedView).
type MaterializedView struct {
	Schema      string
	Name        string
	Kind        MVKind
	CreatedAt   time.Time
	ContentHash string
	SessionID   string
}

// SessionHash returns the first 8 hex chars of md5(session_id), per spec §6.
func SessionHash(sessionID string) string {
	return hash8(sessionID)
}

// ContentHash returns the first 8 hex chars of
// md5(sorted(fids) | buffer_params | centroid_flag), per spec §6.
func ContentHash(fids []int64, bufferParams string, useCentroid bool) string {
	sorted := append([]int64(nil), fids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	parts := make([]string, len(sorted))
	for i, id := range sorted {
		parts[i] = strconv.FormatInt(id, 10)
	}
	payload := strings.Join(parts, ",") + "|" + bufferParams + "|" + strconv.FormatBool(useCentroid)
	return hash8(payload)
}

func hash8(s string) string {
	sum := md5.Sum([]byte(s)) //nolint:gosec
	return hex.EncodeToString(sum[:])[:8]
}

// MVName builds the deterministic, idempotent MV name for (kind, session,
// content): fm_temp_<kind>_<sessionHash8>_<contentHash8>.
func MVName(kind MVKind, sessionID, contentHash string) string {
	return fmt.Sprintf("fm_temp_%s_%s_%s", kind.nameComponent(), SessionHash(sessionID), contentHash)
}

// DefaultTempSchema is the manager's preferred schema (spec §6); falls back
// to "public" once per session if creation is denied.
const DefaultTempSchema = "filtermate_temp"

// PublicFallbackSchema is used when DefaultTempSchema cannot be created.
const PublicFallbackSchema = "public"

// IsOrphan reports whether the view's session is not among liveSessions and
// it is older than maxAge (spec §4.8 "Drop orphans").
func (v MaterializedView) IsOrphan(liveSessions map[string]bool, maxAge time.Duration, now time.Time) bool {
	if now.Sub(v.CreatedAt) < maxAge {
		return false
	}
	return !liveSessions[v.SessionID]
}
