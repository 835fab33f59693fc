package readings

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCountQuery(t *testing.T) {
	from := time.UnixMilli(1717000000000)
	to := time.UnixMilli(1717003600000)

	flux := countQuery("readings", "dev-1", from, to)

	t.Run("should include a reading stamped exactly at to", func(t *testing.T) {
		// stop is exclusive in flux; the built query must end one
		// millisecond past to.
		stop := to.Add(time.Millisecond).UTC().Format(time.RFC3339Nano)
		assert.Contains(t, flux, "stop: "+stop)
	})

	t.Run("should start at from with millisecond precision", func(t *testing.T) {
		assert.Contains(t, flux, "start: "+from.UTC().Format(time.RFC3339Nano))
	})

	t.Run("should scope to the device and count field", func(t *testing.T) {
		assert.Contains(t, flux, `r.device_id == "dev-1"`)
		assert.Contains(t, flux, `r._field == "sensor_count"`)
		assert.True(t, strings.HasPrefix(flux, `from(bucket: "readings")`))
	})
}
