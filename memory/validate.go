package memory

import "github.com/m-mizutani/goerr/v2"

// ValidateMetadata checks a metadata value against the closed type and
// scope enumerations. It is a pure check with no side effects, run before
// any defaulting or persistence. All failures wrap ErrValidation.
func ValidateMetadata(md *Metadata) error {
	if md == nil {
		return goerr.Wrap(ErrValidation, "metadata is required")
	}
	if md.Type == "" {
		return goerr.Wrap(ErrValidation, "metadata type is required")
	}
	if !md.Type.Valid() {
		return goerr.Wrap(ErrValidation, "unknown memory type", goerr.V("type", md.Type))
	}
	if md.Scope != "" && !md.Scope.Valid() {
		return goerr.Wrap(ErrValidation, "unknown scope", goerr.V("scope", md.Scope))
	}
	if md.ChunkIndex != nil && *md.ChunkIndex < 0 {
		return goerr.Wrap(ErrValidation, "chunk index must not be negative", goerr.V("chunkIndex", *md.ChunkIndex))
	}
	return nil
}
