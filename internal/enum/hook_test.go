package enum_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/mock/gomock"

	"github.com/anstrom/neteye/internal/enum"
	"github.com/anstrom/neteye/internal/enum/mocks"
	"github.com/anstrom/neteye/internal/scanning"
)

func TestHook_Applies(t *testing.T) {
	ctrl := gomock.NewController(t)
	h := enum.NewHook(mocks.NewMockEnumerator(ctrl))

	deep := &scanning.ScanJob{Deep: true}
	tests := []struct {
		name    string
		job     *scanning.ScanJob
		outcome scanning.ProbeOutcome
		want    bool
	}{
		{"open http", deep, scanning.ProbeOutcome{Open: true, Protocol: scanning.TCP, Service: "http"}, true},
		{"not deep", &scanning.ScanJob{}, scanning.ProbeOutcome{Open: true, Protocol: scanning.TCP, Service: "http"}, false},
		{"closed", deep, scanning.ProbeOutcome{Protocol: scanning.TCP, Service: "http"}, false},
		{"udp", deep, scanning.ProbeOutcome{Open: true, Protocol: scanning.UDP, Service: "dns"}, false},
		{"no routine", deep, scanning.ProbeOutcome{Open: true, Protocol: scanning.TCP, Service: "unknown"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, h.Applies(tt.job, tt.outcome))
		})
	}
	assert.Equal(t, "enum", h.Name())
}

func TestHook_Run(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	enumerator := mocks.NewMockEnumerator(ctrl)
	enumerator.EXPECT().
		Enumerate(gomock.Any(), "127.0.0.1", uint16(22), enum.RoutineSSH).
		Return("| ssh-hostkey: 256 aa:bb (ED25519)", nil)
	enumerator.EXPECT().
		Enumerate(gomock.Any(), "127.0.0.1", uint16(25), enum.RoutineSMTP).
		Return("", fmt.Errorf("script scan failed"))

	h := enum.NewHook(enumerator)

	text, err := h.Run(context.Background(), scanning.ProbeOutcome{
		Target: "127.0.0.1", Port: 22, Protocol: scanning.TCP, Open: true, Service: "ssh",
	})
	assert.NoError(t, err)
	assert.Equal(t, "Enumerating ssh on port 22 (ssh-enum)\n| ssh-hostkey: 256 aa:bb (ED25519)", text)

	text, err = h.Run(context.Background(), scanning.ProbeOutcome{
		Target: "127.0.0.1", Port: 25, Protocol: scanning.TCP, Open: true, Service: "smtp",
	})
	assert.Error(t, err)
	assert.Equal(t, "Enumerating smtp on port 25 (smtp-enum)", text)
}
