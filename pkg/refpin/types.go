package refpin

import (
	"github.com/bianoble/refpin/internal/checkout"
	"github.com/bianoble/refpin/internal/engine"
	"github.com/bianoble/refpin/internal/registry"
	"github.com/bianoble/refpin/internal/resolve"
)

// Type aliases re-export internal types as the public API.
// Users import "github.com/bianoble/refpin/pkg/refpin" and use
// refpin.Request, refpin.GenerateResult, etc.

type Request = resolve.Request
type Ref = resolve.Ref
type Provenance = resolve.Provenance

const (
	ProvenanceServiceChannel = resolve.ProvenanceServiceChannel
	ProvenanceRegionPin      = resolve.ProvenanceRegionPin
	ProvenanceDefaultChannel = resolve.ProvenanceDefaultChannel
	ProvenanceEnvPin         = resolve.ProvenanceEnvPin
)

type Handle = checkout.Handle
type Fetcher = checkout.Fetcher
type FetcherFunc = checkout.FetcherFunc

type FileAction = engine.FileAction
type Target = engine.Target
type ServiceError = engine.ServiceError
type DriftEntry = engine.DriftEntry
type GenerateResult = engine.GenerateResult
type CheckResult = engine.CheckResult
type PruneResult = engine.PruneResult

// Errors callers can match with errors.As.

type ConfigParseError = registry.ConfigParseError
type DanglingReferenceError = registry.DanglingReferenceError
type UnknownChannelError = resolve.UnknownChannelError
type NoConfigRefError = resolve.NoConfigRefError
type FetchError = checkout.FetchError
