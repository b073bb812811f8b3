package notify

import (
	"context"
	"errors"
)

var ErrUnsupported = errors.New("notifications unsupported")

// Permission is the platform's OS-notification permission capability.
type Permission interface {
	Supported() bool
	Request(ctx context.Context, userID string) (bool, error)
}

type staticPermission struct {
	supported bool
	granted   bool
}

func (p staticPermission) Supported() bool {
	return p.supported
}

func (p staticPermission) Request(context.Context, string) (bool, error) {
	if !p.supported {
		return false, ErrUnsupported
	}
	return p.granted, nil
}

// Granted always allows OS notifications.
func Granted() Permission { return staticPermission{supported: true, granted: true} }

// Denied is a supported platform where the user refuses.
func Denied() Permission { return staticPermission{supported: true} }

// Unsupported is a platform without OS notifications.
func Unsupported() Permission { return staticPermission{} }

// PermissionFromName maps a config value to a Permission.
func PermissionFromName(name string) Permission {
	switch name {
	case "granted":
		return Granted()
	case "denied":
		return Denied()
	default:
		return Unsupported()
	}
}
