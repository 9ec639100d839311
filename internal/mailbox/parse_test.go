package mailbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/example/reservation-agent/internal/domain/reservation"
)

func TestIdentifyPlatform(t *testing.T) {
	require.Equal(t, reservation.PlatformResy, IdentifyPlatform("Resy <notify@resy.com>"))
	require.Equal(t, reservation.PlatformOpenTable, IdentifyPlatform("OpenTable <notifications@opentable.com>"))
	require.Equal(t, reservation.Platform(""), IdentifyPlatform("someone@gmail.com"))
}

func TestParseNotification_ExtractsRestaurantFromSubject(t *testing.T) {
	n, ok := ParseNotification(reservation.PlatformResy, "msg-1", "Good news! A table at Lilia is now available", "")
	require.True(t, ok)
	require.Equal(t, "Lilia", n.RestaurantName)
	require.Equal(t, reservation.PlatformResy, n.Platform)
	require.Equal(t, "msg-1", n.EmailID)
}

func TestParseNotification_FallsBackToBodyWhenSubjectHasNoMatch(t *testing.T) {
	n, ok := ParseNotification(reservation.PlatformOpenTable, "msg-2", "Reservation update",
		"Good news, a spot just opened at Carbone for your requested time.")
	require.True(t, ok)
	require.Equal(t, "Carbone", n.RestaurantName)
}

func TestParseNotification_RejectsNonNotificationEmail(t *testing.T) {
	_, ok := ParseNotification(reservation.PlatformResy, "msg-3", "Your receipt from Resy", "Thanks for your order.")
	require.False(t, ok)
}

func TestParseNotification_RejectsKeywordMatchWithNoExtractableName(t *testing.T) {
	_, ok := ParseNotification(reservation.PlatformResy, "msg-4", "notify: something opened up", "")
	require.False(t, ok)
}
