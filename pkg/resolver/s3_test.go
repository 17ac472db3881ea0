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
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NotFound{}
	}

	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(data)))}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func TestS3Resolver(t *testing.T) {
	ctx := context.Background()
	r := NewS3Resolver(&fakeS3{objects: map[string][]byte{"releases/adapters/acme.zip": []byte("zip")}})

	ok, err := r.Exists(ctx, "s3://releases/adapters/acme.zip")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = r.Exists(ctx, "s3://releases/adapters/none.zip")
	require.NoError(t, err)
	assert.False(t, ok)

	data, err := r.Fetch(ctx, "s3://releases/adapters/acme.zip")
	require.NoError(t, err)
	assert.Equal(t, []byte("zip"), data)

	_, err = r.Fetch(ctx, "s3://releases/adapters/none.zip")
	require.ErrorIs(t, err, ErrModuleNotFound)

	_, err = r.Fetch(ctx, "/local/file.zip")
	require.ErrorIs(t, err, errUnsupportedScheme)
}
