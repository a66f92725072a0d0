package social

import (
	"errors"
	"fmt"
	"maps"

	auth "github.com/goliatone/go-auth-link"
	goerrors "github.com/goliatone/go-errors"
)

// ProviderError captures what an identity provider answered when an
// assertion round trip failed.
type ProviderError struct {
	Provider    string
	Operation   string
	Status      int
	Code        string
	Description string
	Err         error
}

func (e *ProviderError) Error() string {
	if e == nil {
		return "provider error"
	}

	scope := "provider"
	if e.Provider != "" && e.Operation != "" {
		scope = fmt.Sprintf("%s %s", e.Provider, e.Operation)
	} else if e.Provider != "" {
		scope = e.Provider
	}

	switch {
	case e.Description != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Description)
	case e.Code != "":
		return fmt.Sprintf("%s failed: %s", scope, e.Code)
	case e.Status != 0:
		return fmt.Sprintf("%s failed: status %d", scope, e.Status)
	case e.Err != nil:
		return fmt.Sprintf("%s failed: %v", scope, e.Err)
	}
	return fmt.Sprintf("%s failed", scope)
}

func (e *ProviderError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Metadata returns the populated fields, for logging.
func (e *ProviderError) Metadata() map[string]any {
	if e == nil {
		return nil
	}

	meta := map[string]any{}
	if e.Provider != "" {
		meta["provider"] = e.Provider
	}
	if e.Operation != "" {
		meta["operation"] = e.Operation
	}
	if e.Status != 0 {
		meta["status"] = e.Status
	}
	if e.Code != "" {
		meta["code"] = e.Code
	}
	if e.Description != "" {
		meta["description"] = e.Description
	}
	return meta
}

// wrapProviderError returns a copy of base carrying err as its source and
// the provider details as metadata. The result still matches base with
// errors.Is and keeps a ProviderError reachable through errors.As.
func wrapProviderError(base *goerrors.Error, provider, operation string, err error) error {
	if base == nil {
		return err
	}

	var perr *ProviderError
	if !errors.As(err, &perr) || perr == nil {
		perr = &ProviderError{Provider: provider, Operation: operation, Err: err}
	}

	meta := map[string]any{}
	if provider != "" {
		meta["provider"] = provider
	}
	if operation != "" {
		meta["operation"] = operation
	}
	if pm := perr.Metadata(); len(pm) > 0 {
		maps.Copy(meta, pm)
	}
	if err != nil {
		meta["error"] = err.Error()
	}

	clone := base.Clone()
	if err != nil {
		clone.Source = perr
	}
	clone.WithMetadata(meta)

	return auth.Detailed(base, clone)
}
