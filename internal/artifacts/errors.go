package artifacts

import "errors"

var (
	ErrArtifactNotFound  = errors.New("artifacts: contract not found")
	ErrAmbiguousArtifact = errors.New("artifacts: contract name is ambiguous, use the fully qualified name")
	ErrBuildInfoNotFound = errors.New("artifacts: build info not found")
	ErrNotAnArtifact     = errors.New("artifacts: not a contract artifact")
	ErrEmptyBytecode     = errors.New("artifacts: contract has no bytecode")
	ErrUnlinkedBytecode  = errors.New("artifacts: bytecode has unlinked libraries")
	ErrMethodNotFound    = errors.New("artifacts: method not found")
	ErrArgumentCount     = errors.New("artifacts: wrong number of arguments")
	ErrUnsupportedType   = errors.New("artifacts: unsupported abi type")
)
