package migration

import (
	"errors"
	"fmt"
)

// Sentinel values for classifying failures with errors.Is.
var (
	// ErrManifestParse indicates a malformed on-disk script tree.
	ErrManifestParse = errors.New("manifest parse error")

	// ErrModelConflict indicates a duplicate (order, kind) pair within a feature.
	ErrModelConflict = errors.New("model conflict")

	// ErrDrift indicates the declared or live state no longer matches what was recorded.
	ErrDrift = errors.New("drift detected")

	// ErrMissingRollback indicates a downgrade past an irreversible step.
	ErrMissingRollback = errors.New("missing rollback script")

	// ErrScriptExecution indicates a script failed against the database.
	ErrScriptExecution = errors.New("script execution failed")

	// ErrConnectivity indicates the database could not be reached or authenticated.
	ErrConnectivity = errors.New("database connectivity error")

	// ErrMigrationHalted indicates a migration stopped part way through its plan.
	ErrMigrationHalted = errors.New("migration halted")

	// ErrUnknownVersion indicates a target version that is not declared.
	ErrUnknownVersion = errors.New("unknown version")
)

// ManifestParseError names the path of a malformed script tree entry.
type ManifestParseError struct {
	Path string
	Err  error
}

// Error implements the error interface
func (e *ManifestParseError) Error() string {
	return fmt.Sprintf("manifest %s: %v", e.Path, e.Err)
}

// Unwrap returns the underlying error
func (e *ManifestParseError) Unwrap() error {
	return e.Err
}

// Is matches ErrManifestParse.
func (e *ManifestParseError) Is(target error) bool {
	return target == ErrManifestParse
}

// NewManifestParseError creates a ManifestParseError for path.
func NewManifestParseError(path string, format string, args ...any) *ManifestParseError {
	return &ManifestParseError{Path: path, Err: fmt.Errorf(format, args...)}
}

// ModelConflict reports two scripts claiming the same (order, kind) in a feature.
type ModelConflict struct {
	Key       Key
	Kind      ScriptKind
	Existing  string
	Duplicate string
}

// Error implements the error interface
func (e *ModelConflict) Error() string {
	return fmt.Sprintf("model conflict at %s (%s): %s and %s", e.Key, e.Kind, e.Existing, e.Duplicate)
}

// Is matches ErrModelConflict.
func (e *ModelConflict) Is(target error) bool {
	return target == ErrModelConflict
}

// ScriptDrift reports an applied script whose declared counterpart is missing
// or whose checksum changed after it was applied. Actual is empty when the
// declared script is missing.
type ScriptDrift struct {
	Key      Key
	FileName string
	Expected Checksum
	Actual   Checksum
}

// Error implements the error interface
func (e *ScriptDrift) Error() string {
	if e.Actual == "" {
		return fmt.Sprintf("script drift at %s (%s): applied script no longer declared", e.Key, e.FileName)
	}
	return fmt.Sprintf("script drift at %s (%s): expected checksum %s, found %s", e.Key, e.FileName, e.Expected, e.Actual)
}

// Is matches ErrDrift.
func (e *ScriptDrift) Is(target error) bool {
	return target == ErrDrift
}

// SchemaDrift reports a schema-object category altered outside the migrator.
type SchemaDrift struct {
	Category SchemaCategory
	Expected string
	Actual   string
}

// Error implements the error interface
func (e *SchemaDrift) Error() string {
	return fmt.Sprintf("schema drift in %s: expected checksum %s, found %s", e.Category, e.Expected, e.Actual)
}

// Is matches ErrDrift.
func (e *SchemaDrift) Is(target error) bool {
	return target == ErrDrift
}

// MissingRollbackScript reports an applied upgrade that has no rollback.
type MissingRollbackScript struct {
	Key      Key
	FileName string
}

// Error implements the error interface
func (e *MissingRollbackScript) Error() string {
	return fmt.Sprintf("no rollback script for %s (%s)", e.Key, e.FileName)
}

// Is matches ErrMissingRollback.
func (e *MissingRollbackScript) Is(target error) bool {
	return target == ErrMissingRollback
}

// ScriptExecutionError wraps a database failure raised by a script.
type ScriptExecutionError struct {
	Key      Key
	FileName string
	Kind     ScriptKind
	Err      error
}

// Error implements the error interface
func (e *ScriptExecutionError) Error() string {
	return fmt.Sprintf("%s script %s (%s) failed: %v", e.Kind, e.Key, e.FileName, e.Err)
}

// Unwrap returns the underlying database error
func (e *ScriptExecutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrScriptExecution.
func (e *ScriptExecutionError) Is(target error) bool {
	return target == ErrScriptExecution
}

// ConnectivityError wraps a failure to reach or authenticate to the database.
type ConnectivityError struct {
	Operation string
	Err       error
}

// Error implements the error interface
func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("database unreachable during %s: %v", e.Operation, e.Err)
}

// Unwrap returns the underlying error
func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// Is matches ErrConnectivity.
func (e *ConnectivityError) Is(target error) bool {
	return target == ErrConnectivity
}

// MigrationHalted reports the 1-based position of the step that stopped a run.
// Steps before Index were committed; Index and later were not.
type MigrationHalted struct {
	Index int
	Total int
	Step  Step
	Err   error
}

// Error implements the error interface
func (e *MigrationHalted) Error() string {
	return fmt.Sprintf("migration halted at step %d/%d (%s %s): %v",
		e.Index, e.Total, e.Step.Key, e.Step.Script.FileName, e.Err)
}

// Unwrap returns the cause
func (e *MigrationHalted) Unwrap() error {
	return e.Err
}

// Is matches ErrMigrationHalted.
func (e *MigrationHalted) Is(target error) bool {
	return target == ErrMigrationHalted
}

// ErrorKind maps an error to a stable logging label.
func ErrorKind(err error) string {
	if err == nil {
		return ""
	}
	switch {
	case errors.Is(err, ErrMigrationHalted):
		return "migration_halted"
	case errors.Is(err, ErrConnectivity):
		return "connectivity"
	case errors.Is(err, ErrManifestParse):
		return "manifest_parse"
	case errors.Is(err, ErrModelConflict):
		return "model_conflict"
	case errors.Is(err, ErrDrift):
		return "drift"
	case errors.Is(err, ErrMissingRollback):
		return "missing_rollback"
	case errors.Is(err, ErrScriptExecution):
		return "script_execution"
	case errors.Is(err, ErrUnknownVersion):
		return "unknown_version"
	}
	return "unexpected"
}
