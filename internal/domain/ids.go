package domain

import "github.com/google/uuid"

// NewClaimID, NewEvidenceID, and NewEdgeID generate fresh random ids for
// callers that do not supply their own. The store itself never generates
// ids implicitly; these helpers exist for ingestion clients.
func NewClaimID() string    { return "clm_" + uuid.NewString() }
func NewEvidenceID() string { return "evd_" + uuid.NewString() }
func NewEdgeID() string     { return "edg_" + uuid.NewString() }
