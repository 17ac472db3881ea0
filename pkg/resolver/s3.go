/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client the resolver uses.
type S3API interface {
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3Config configures the S3 client. Endpoint and UsePathStyle target
// S3-compatible stores.
type S3Config struct {
	Region       string `json:"region" yaml:"region"`
	Endpoint     string `json:"endpoint,omitempty" yaml:"endpoint,omitempty"`
	UsePathStyle bool   `json:"use_path_style" yaml:"use_path_style"`
}

// S3Resolver reads bundles from s3://bucket/key references.
type S3Resolver struct {
	client S3API
}

// NewS3Resolver wraps an existing client.
func NewS3Resolver(client S3API) *S3Resolver {
	return &S3Resolver{client: client}
}

// NewS3Client builds a client from the default credential chain.
func NewS3Client(ctx context.Context, cfg S3Config) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{}
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}

		o.UsePathStyle = cfg.UsePathStyle
	}), nil
}

func s3Ref(ref string) (Ref, error) {
	r, err := ParseRef(ref)
	if err != nil {
		return Ref{}, err
	}

	if r.Scheme != SchemeS3 {
		return Ref{}, fmt.Errorf("%w: %q", errUnsupportedScheme, r.Scheme)
	}

	return r, nil
}

func isS3NotFound(err error) bool {
	var (
		noKey    *types.NoSuchKey
		nf       *types.NotFound
		noBucket *types.NoSuchBucket
	)

	return errors.As(err, &noKey) || errors.As(err, &nf) || errors.As(err, &noBucket)
}

// Exists issues a HEAD request.
func (s *S3Resolver) Exists(ctx context.Context, ref string) (bool, error) {
	r, err := s3Ref(ref)
	if err != nil {
		return false, err
	}

	out, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Path),
	})
	if isS3NotFound(err) {
		return false, nil
	}

	if err != nil {
		return false, fmt.Errorf("failed to head %s: %w", ref, err)
	}

	return aws.ToInt64(out.ContentLength) > 0, nil
}

// Fetch downloads the object body.
func (s *S3Resolver) Fetch(ctx context.Context, ref string) ([]byte, error) {
	r, err := s3Ref(ref)
	if err != nil {
		return nil, err
	}

	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(r.Bucket),
		Key:    aws.String(r.Path),
	})
	if isS3NotFound(err) {
		return nil, notFound(ref)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", ref, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", ref, err)
	}

	return data, nil
}
