package blob

import (
	"context"
	"fmt"
	"strings"
)

// Options selects and configures a blob driver.
//
//	Driver:        fs|s3|memory (default fs)
//	FSRoot:        directory root when driver=fs (default ./blobdata)
//	PublicBaseURL: prefix of public object URLs for fs/memory (default /media)
//	S3:            bucket settings when driver=s3
type Options struct {
	Driver        string   `yaml:"driver"`
	FSRoot        string   `yaml:"fs_root"`
	PublicBaseURL string   `yaml:"public_base_url"`
	S3            S3Config `yaml:"s3"`
}

// DefaultPublicBaseURL is where the web server serves fs/memory objects.
const DefaultPublicBaseURL = "/media"

// Open selects a blob.Store implementation from opts.
func Open(ctx context.Context, opts Options) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(opts.Driver))
	if driver == "" {
		driver = string(DriverFilesystem)
	}
	base := opts.PublicBaseURL
	if base == "" {
		base = DefaultPublicBaseURL
	}
	switch Driver(driver) {
	case DriverFilesystem:
		return NewFilesystem(opts.FSRoot, base)
	case DriverS3:
		return NewS3(ctx, opts.S3)
	case DriverMemory:
		return NewMemory(base), nil
	default:
		return nil, fmt.Errorf("unknown blob driver %s", driver)
	}
}
