package arkive_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivehq/arkive"
)

const mib = 1024 * 1024

func TestNewStrategist(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		s, err := arkive.NewStrategist(arkive.StrategistConfig{})
		require.NoError(t, err)
		assert.Equal(t, int64(arkive.DefaultChunkSize), s.ChunkSize())
	})

	t.Run("chunk size below store minimum", func(t *testing.T) {
		_, err := arkive.NewStrategist(arkive.StrategistConfig{ChunkSize: 1 * mib})
		assert.ErrorIs(t, err, arkive.ErrInvalidInput)
	})

	t.Run("threshold below chunk size", func(t *testing.T) {
		_, err := arkive.NewStrategist(arkive.StrategistConfig{
			SmallObjectThreshold: 5 * mib,
			ChunkSize:            10 * mib,
		})
		assert.ErrorIs(t, err, arkive.ErrInvalidInput)
	})
}

func TestStrategist_Plan(t *testing.T) {
	s, err := arkive.NewStrategist(arkive.StrategistConfig{
		SmallObjectThreshold: 25 * mib,
		ChunkSize:            5 * mib,
	})
	require.NoError(t, err)

	t.Run("empty payload rejected", func(t *testing.T) {
		_, err := s.Plan(0)
		assert.ErrorIs(t, err, arkive.ErrEmptyArchive)
	})

	t.Run("negative size rejected", func(t *testing.T) {
		_, err := s.Plan(-1)
		assert.ErrorIs(t, err, arkive.ErrInvalidInput)
	})

	t.Run("at threshold goes single shot", func(t *testing.T) {
		plan, err := s.Plan(25 * mib)
		require.NoError(t, err)
		assert.Equal(t, arkive.TransferSingleShot, plan.Mode)
		assert.Zero(t, plan.PartCount())
	})

	t.Run("one byte over threshold goes multipart", func(t *testing.T) {
		plan, err := s.Plan(25*mib + 1)
		require.NoError(t, err)
		assert.Equal(t, arkive.TransferMultipart, plan.Mode)
		assert.Equal(t, 6, plan.PartCount())
	})

	t.Run("parts tile the payload exactly", func(t *testing.T) {
		const total = 27*mib + 123
		plan, err := s.Plan(total)
		require.NoError(t, err)

		var sum int64
		var next int64
		for i, p := range plan.Parts {
			assert.Equal(t, i+1, p.Number)
			assert.Equal(t, next, p.Offset)
			if i < len(plan.Parts)-1 {
				assert.Equal(t, int64(5*mib), p.Length)
			}
			sum += p.Length
			next += p.Length
		}
		assert.Equal(t, int64(total), sum)
	})
}

func TestPartRanges(t *testing.T) {
	t.Run("12 MiB at 5 MiB chunks yields 5/5/2", func(t *testing.T) {
		parts := arkive.PartRanges(12*mib, 5*mib)
		require.Len(t, parts, 3)
		assert.Equal(t, int64(5*mib), parts[0].Length)
		assert.Equal(t, int64(5*mib), parts[1].Length)
		assert.Equal(t, int64(2*mib), parts[2].Length)
		assert.Equal(t, int64(10*mib), parts[2].Offset)
	})

	t.Run("exact multiple has no short tail", func(t *testing.T) {
		parts := arkive.PartRanges(10*mib, 5*mib)
		require.Len(t, parts, 2)
		assert.Equal(t, int64(5*mib), parts[1].Length)
	})

	t.Run("payload smaller than one chunk", func(t *testing.T) {
		parts := arkive.PartRanges(100, 5*mib)
		require.Len(t, parts, 1)
		assert.Equal(t, int64(100), parts[0].Length)
	})

	t.Run("zero size yields nothing", func(t *testing.T) {
		assert.Nil(t, arkive.PartRanges(0, 5*mib))
	})
}
