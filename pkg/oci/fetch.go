package oci

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	ocispec "github.com/opencontainers/image-spec/specs-go/v1"
	"oras.land/oras-go/v2/registry/remote"
	"oras.land/oras-go/v2/registry/remote/auth"
	"oras.land/oras-go/v2/registry/remote/retry"
)

const (
	defTag       = "latest"
	maxLayerSize = 256 * 1024 * 1024
)

var (
	ErrNoLayers      = errors.New("no valid layers found in manifest")
	ErrLayerTooLarge = errors.New("layer exceeds maximum size")
	errEmptyRef      = errors.New("empty image reference")
)

// Config describes how to reach the registry holding trainer modules.
type Config struct {
	RegistryURL  string `env:"REGISTRY_URL"      envDefault:"localhost:5000"`
	Authenticate bool   `env:"REGISTRY_AUTH"     envDefault:"false"`
	Token        string `env:"REGISTRY_TOKEN"    envDefault:""`
	Username     string `env:"REGISTRY_USERNAME" envDefault:""`
	Password     string `env:"REGISTRY_PASSWORD" envDefault:""`
	PlainHTTP    bool   `env:"REGISTRY_PLAIN_HTTP" envDefault:"false"`
}

func (c Config) Validate() error {
	if c.RegistryURL == "" {
		return errors.New("registry URL is required")
	}

	if c.Authenticate {
		hasToken := c.Token != ""
		hasCredentials := c.Username != "" && c.Password != ""

		if !hasToken && !hasCredentials {
			return errors.New("either a token or username/password must be provided when authentication is enabled")
		}
	}

	return nil
}

// Fetch downloads the largest layer of image, which for wasm artifacts is the
// module itself. image is "<repository>[:tag]" relative to the registry.
func Fetch(ctx context.Context, cfg Config, image string) ([]byte, error) {
	if image == "" {
		return nil, errEmptyRef
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	name, tag := image, defTag
	if i := strings.LastIndex(image, ":"); i > 0 && !strings.Contains(image[i:], "/") {
		name, tag = image[:i], image[i+1:]
	}

	repo, err := remote.NewRepository(fmt.Sprintf("%s/%s", cfg.RegistryURL, name))
	if err != nil {
		return nil, fmt.Errorf("failed to create repository for %s: %w", image, err)
	}
	repo.PlainHTTP = cfg.PlainHTTP
	setupAuthentication(cfg, repo)

	manifest, err := fetchManifest(ctx, repo, tag)
	if err != nil {
		return nil, err
	}

	layer, err := largestLayer(manifest)
	if err != nil {
		return nil, err
	}
	if layer.Size > maxLayerSize {
		return nil, ErrLayerTooLarge
	}

	reader, err := repo.Fetch(ctx, layer)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch layer for %s: %w", image, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(io.LimitReader(reader, maxLayerSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read layer for %s: %w", image, err)
	}

	return data, nil
}

func setupAuthentication(cfg Config, repo *remote.Repository) {
	if !cfg.Authenticate {
		return
	}

	cred := auth.Credential{
		Username:    cfg.Username,
		AccessToken: cfg.Token,
	}
	if cfg.Username != "" && cfg.Password != "" {
		cred = auth.Credential{
			Username: cfg.Username,
			Password: cfg.Password,
		}
	}

	repo.Client = &auth.Client{
		Client:     retry.DefaultClient,
		Cache:      auth.NewCache(),
		Credential: auth.StaticCredential(cfg.RegistryURL, cred),
	}
}

func fetchManifest(ctx context.Context, repo *remote.Repository, tag string) (ocispec.Manifest, error) {
	descriptor, err := repo.Resolve(ctx, tag)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("failed to resolve manifest %s: %w", tag, err)
	}

	reader, err := repo.Fetch(ctx, descriptor)
	if err != nil {
		return ocispec.Manifest{}, fmt.Errorf("failed to fetch manifest %s: %w", tag, err)
	}
	defer reader.Close()

	var manifest ocispec.Manifest
	if err := json.NewDecoder(reader).Decode(&manifest); err != nil {
		return ocispec.Manifest{}, fmt.Errorf("failed to parse manifest %s: %w", tag, err)
	}

	return manifest, nil
}

func largestLayer(manifest ocispec.Manifest) (ocispec.Descriptor, error) {
	var largest ocispec.Descriptor
	for _, layer := range manifest.Layers {
		if layer.Size > largest.Size {
			largest = layer
		}
	}

	if largest.Size == 0 {
		return ocispec.Descriptor{}, ErrNoLayers
	}

	return largest, nil
}
