package plugin

import (
	"fmt"

	xerrors "OpenChat-Bot/internal/errors"
)

const (
	CodeLoadFailed    xerrors.Code = "MODULE_LOAD_FAILED"
	CodeUnloadFailed  xerrors.Code = "MODULE_UNLOAD_FAILED"
	CodeAlreadyLoaded xerrors.Code = "MODULE_ALREADY_LOADED"
	CodeNotLoaded     xerrors.Code = "MODULE_NOT_LOADED"
)

func init() {
	xerrors.Register(CodeLoadFailed, xerrors.Attributes{
		Message:  "module load failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
	xerrors.Register(CodeUnloadFailed, xerrors.Attributes{
		Message:  "module unload failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAlreadyLoaded, xerrors.Attributes{
		Message:  "module already loaded",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeNotLoaded, xerrors.Attributes{
		Message:  "module not loaded",
		Severity: xerrors.SeverityInfo,
	})
}

func loadError(name string, cause error) error {
	return xerrors.Wrap(CodeLoadFailed, cause, fmt.Sprintf("error while loading module %s", name),
		xerrors.WithMetadata("module", name))
}

func unloadError(name string, cause error) error {
	return xerrors.Wrap(CodeUnloadFailed, cause, fmt.Sprintf("error while unloading module %s", name),
		xerrors.WithMetadata("module", name))
}

func alreadyLoaded(name string) error {
	return xerrors.New(CodeAlreadyLoaded, fmt.Sprintf("module %s already loaded", name),
		xerrors.WithMetadata("module", name))
}

func notLoaded(name string) error {
	return xerrors.New(CodeNotLoaded, fmt.Sprintf("module %s is not loaded", name),
		xerrors.WithMetadata("module", name))
}
