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

package adapter

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		err  error
		want Kind
	}{
		{nil, KindNone},
		{fmt.Errorf("%w: protocolType is blank", ErrParameter), KindParameter},
		{fmt.Errorf("%w: no manifest", ErrModuleIntegrity), KindModuleIntegrity},
		{fmt.Errorf("stage: %w", fmt.Errorf("%w: ctor", ErrLoad)), KindLoad},
		{fmt.Errorf("%w: baudRate=100000", ErrValidation), KindValidation},
		{ErrApply, KindApply},
		{ErrSwap, KindSwap},
		{ErrBackupUnavailable, KindBackupUnavailable},
		{errors.New("boom"), KindInternal},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, KindOf(tt.err), "%v", tt.err)
	}
}

func TestSentinelFor(t *testing.T) {
	assert.Equal(t, ErrValidation, SentinelFor(KindValidation))
	assert.Nil(t, SentinelFor(KindInternal))
}

func TestSchemaCheck(t *testing.T) {
	require.NoError(t, Schema{{Name: "baudRate", Type: FieldInt}, {Name: "parity", Type: FieldString}}.Check())
	require.Error(t, Schema{{Name: "", Type: FieldInt}}.Check())
	require.Error(t, Schema{{Name: "x", Type: "decimal"}}.Check())
	require.Error(t, Schema{{Name: "x", Type: FieldInt}, {Name: "x", Type: FieldBool}}.Check())
}

func TestSchemaLookup(t *testing.T) {
	s := Schema{{Name: "baudRate", Type: FieldInt}, {Name: "parity", Type: FieldString}}

	f, ok := s.Lookup("parity")
	require.True(t, ok)
	assert.Equal(t, FieldString, f.Type)

	_, ok = s.Lookup("flowControl")
	assert.False(t, ok)
	assert.Equal(t, []string{"baudRate", "parity"}, s.Names())
}

func TestConfigClone(t *testing.T) {
	var nilCfg Config
	assert.Nil(t, nilCfg.Clone())

	orig := Config{"baudRate": 9600}
	clone := orig.Clone()
	clone["baudRate"] = 19200

	assert.Equal(t, 9600, orig["baudRate"])
}

func TestConfigMerge(t *testing.T) {
	base := Config{"baudRate": 9600, "dataBits": 7}
	merged := base.Merge(Config{"baudRate": 19200, "parity": "even"})

	assert.Equal(t, Config{"baudRate": 19200, "dataBits": 7, "parity": "even"}, merged)
	assert.Equal(t, Config{"baudRate": 9600, "dataBits": 7}, base)

	var nilCfg Config
	assert.Equal(t, Config{}, nilCfg.Merge(nil))
}
