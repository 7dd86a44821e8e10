package repository

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/rs/xid"

	"github.com/treeverse/snapvault/pkg/block"
)

// StartVerification checks that this process can write to the repository and
// returns a seed for VerifyNode calls. On a read-only repository nothing is
// written; readability is proven by resolving the latest catalog generation
// and the returned seed is empty.
func (r *Repository) StartVerification(ctx context.Context) (string, error) {
	if r.readOnly {
		if _, err := r.latestGeneration(ctx); err != nil {
			return "", fmt.Errorf("%w: cannot resolve latest generation: %w", ErrVerificationFailed, err)
		}
		return "", nil
	}
	seed := xid.New().String()
	probe := []byte(seed)
	err := r.verificationContainer(seed).PutAtomic(ctx, masterProbeBlobName,
		bytes.NewReader(probe), int64(len(probe)), block.PutOpts{FailIfExists: true})
	if err != nil {
		return "", fmt.Errorf("%w: cannot write probe: %w", ErrVerificationFailed, err)
	}
	return seed, nil
}

// VerifyNode proves that a node sees the same store the verifier wrote to. It
// reads the verifier's probe, compares its content to the seed, and leaves a
// per-node marker blob behind.
func (r *Repository) VerifyNode(ctx context.Context, seed, nodeID string) error {
	if r.readOnly {
		if _, err := r.latestGeneration(ctx); err != nil {
			return fmt.Errorf("%w: node %s cannot resolve latest generation: %w", ErrVerificationFailed, nodeID, err)
		}
		return nil
	}
	probeC := r.verificationContainer(seed)
	reader, err := probeC.Get(ctx, masterProbeBlobName)
	if errors.Is(err, block.ErrDataNotFound) {
		return fmt.Errorf("%w: probe written by the verifier is not visible on node %s,"+
			" the store is not shared between the nodes or its permissions deny reading files the verifier wrote",
			ErrVerificationFailed, nodeID)
	}
	if err != nil {
		return fmt.Errorf("%w: node %s cannot read probe: %w", ErrVerificationFailed, nodeID, err)
	}
	defer func() { _ = reader.Close() }()
	content, err := io.ReadAll(reader)
	if err != nil {
		return fmt.Errorf("%w: node %s cannot read probe: %w", ErrVerificationFailed, nodeID, err)
	}
	if string(content) != seed {
		return fmt.Errorf("%w: probe on node %s holds %q, want seed %q", ErrVerificationFailed, nodeID, content, seed)
	}
	marker := []byte(seed)
	err = probeC.Put(ctx, nodeProbeBlobName(nodeID), bytes.NewReader(marker), int64(len(marker)), block.PutOpts{})
	if err != nil {
		return fmt.Errorf("%w: node %s cannot write marker: %w", ErrVerificationFailed, nodeID, err)
	}
	return nil
}

// EndVerification removes the verification probe container. A no-op for the
// empty seed of a read-only verification.
func (r *Repository) EndVerification(ctx context.Context, seed string) error {
	if seed == "" {
		return nil
	}
	if err := r.verificationContainer(seed).DeleteAll(ctx); err != nil {
		return fmt.Errorf("cannot delete verification data %s: %w", verificationDirName(seed), err)
	}
	return nil
}
