package arkive_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arkivehq/arkive"
)

func TestHTTPPartTransport_TransferPart(t *testing.T) {
	t.Run("success returns receipt from etag", func(t *testing.T) {
		var gotBody string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, http.MethodPut, r.Method)
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			gotBody = string(body)
			w.Header().Set("ETag", `"receipt-abc"`)
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		transport := arkive.NewHTTPPartTransport(nil)
		cap := arkive.Capability{URL: srv.URL, PartNumber: 1, ExpiresAt: time.Now().Add(time.Minute)}

		receipt, err := transport.TransferPart(context.Background(), cap, strings.NewReader("part bytes"), 10)
		require.NoError(t, err)
		assert.Equal(t, "receipt-abc", receipt)
		assert.Equal(t, "part bytes", gotBody)
	})

	t.Run("body is bounded to length", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Len(t, body, 4)
			w.Header().Set("ETag", "r")
		}))
		defer srv.Close()

		transport := arkive.NewHTTPPartTransport(nil)
		cap := arkive.Capability{URL: srv.URL, PartNumber: 1, ExpiresAt: time.Now().Add(time.Minute)}

		_, err := transport.TransferPart(context.Background(), cap, strings.NewReader("0123456789"), 4)
		require.NoError(t, err)
	})

	t.Run("expired capability fails locally", func(t *testing.T) {
		transport := arkive.NewHTTPPartTransport(nil)
		cap := arkive.Capability{URL: "http://unreachable.invalid", PartNumber: 3, ExpiresAt: time.Now().Add(-time.Minute)}

		_, err := transport.TransferPart(context.Background(), cap, strings.NewReader("x"), 1)
		var terr *arkive.PartTransferError
		require.ErrorAs(t, err, &terr)
		assert.Equal(t, 3, terr.PartNumber)
		assert.ErrorIs(t, err, arkive.ErrSessionExpired)
	})

	t.Run("forbidden maps to session expired", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer srv.Close()

		transport := arkive.NewHTTPPartTransport(nil)
		cap := arkive.Capability{URL: srv.URL, PartNumber: 2, ExpiresAt: time.Now().Add(time.Minute)}

		_, err := transport.TransferPart(context.Background(), cap, strings.NewReader("x"), 1)
		assert.ErrorIs(t, err, arkive.ErrSessionExpired)
	})

	t.Run("missing receipt token", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer srv.Close()

		transport := arkive.NewHTTPPartTransport(nil)
		cap := arkive.Capability{URL: srv.URL, PartNumber: 1, ExpiresAt: time.Now().Add(time.Minute)}

		_, err := transport.TransferPart(context.Background(), cap, strings.NewReader("x"), 1)
		var terr *arkive.PartTransferError
		assert.ErrorAs(t, err, &terr)
	})
}

func TestPartSet(t *testing.T) {
	t.Run("records come back sorted by part number", func(t *testing.T) {
		set := arkive.NewPartSet()
		for _, n := range []int{3, 1, 2} {
			require.NoError(t, set.Add(arkive.PartRecord{Number: n, Receipt: "r"}))
		}

		records := set.Records()
		require.Len(t, records, 3)
		assert.Equal(t, 1, records[0].Number)
		assert.Equal(t, 2, records[1].Number)
		assert.Equal(t, 3, records[2].Number)
	})

	t.Run("duplicate part rejected", func(t *testing.T) {
		set := arkive.NewPartSet()
		require.NoError(t, set.Add(arkive.PartRecord{Number: 1, Receipt: "a"}))
		err := set.Add(arkive.PartRecord{Number: 1, Receipt: "b"})
		assert.ErrorIs(t, err, arkive.ErrInvalidInput)
		assert.Equal(t, 1, set.Len())
	})
}
