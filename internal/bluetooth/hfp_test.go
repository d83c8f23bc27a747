package bluetooth

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHFP_CallOperationsBeforeInit(t *testing.T) {
	p := NewHFP(&fakeStack{}, WithResources(&Resources{}))

	ops := map[string]func() ErrorCode{
		"StartRinging":          p.StartRinging,
		"StopRinging":           p.StopRinging,
		"InitializeCall":        p.InitializeCall,
		"TerminateCall":         p.TerminateCall,
		"CallActive":            p.CallActive,
		"CallStarted":           func() ErrorCode { return p.CallStarted("123") },
		"SetIncomingCallNumber": func() ErrorCode { return p.SetIncomingCallNumber("123") },
		"SetSignalStrength":     func() ErrorCode { return p.SetSignalStrength(3) },
		"SetOperatorName":       func() ErrorCode { return p.SetOperatorName("T-Mobile") },
		"SetBatteryLevel":       func() ErrorCode { return p.SetBatteryLevel(BatteryLevel{Percent: 50}) },
		"SetNetworkRegistration": func() ErrorCode {
			return p.SetNetworkRegistrationStatus(true)
		},
		"SetRoamingStatus": func() ErrorCode { return p.SetRoamingStatus(true) },
		"HandleCommand":    func() ErrorCode { return p.HandleCommand("AT+CIND?") },
	}

	for name, op := range ops {
		assert.NotPanics(t, func() {
			assert.Equal(t, NotInitialized, op(), name)
		}, name)
	}
	assert.Equal(t, CallIdle, p.CallState())
}

func TestHFP_IncomingCallFlow(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	require.Equal(t, Success, p.InitializeCall())
	assert.Equal(t, CallIncoming, p.CallState())

	require.Equal(t, Success, p.SetIncomingCallNumber("+48123456789"))
	require.Equal(t, Success, p.StartRinging())
	assert.True(t, p.Ringing())
	assert.Equal(t, CallIncoming, p.CallState())

	require.Equal(t, Success, p.SetIncomingCallNumber("600700800"))
	require.Equal(t, Success, p.StopRinging())
	assert.False(t, p.Ringing())

	require.Equal(t, Success, p.CallActive())
	assert.Equal(t, CallActive, p.CallState())

	require.Equal(t, Success, p.TerminateCall())
	assert.Equal(t, CallIdle, p.CallState())

	assert.Equal(t, []string{
		"\r\n+CIEV: 3,1\r\n",
		"\r\nRING\r\n",
		"\r\n+CLIP: \"+48123456789\",145\r\n",
		"\r\n+CLIP: \"600700800\",129\r\n",
		"\r\n+CIEV: 2,1\r\n",
		"\r\n+CIEV: 3,0\r\n",
		"\r\n+CIEV: 2,0\r\n",
	}, stack.sent)
}

func TestHFP_OutgoingCallAbandoned(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	require.Equal(t, Success, p.CallStarted("112"))
	assert.Equal(t, CallOutgoing, p.CallState())
	assert.Equal(t, InvalidState, p.InitializeCall())

	require.Equal(t, Success, p.TerminateCall())
	assert.Equal(t, CallIdle, p.CallState())
	assert.Equal(t, Success, p.TerminateCall())

	assert.Equal(t, []string{"\r\n+CIEV: 3,2\r\n", "\r\n+CIEV: 3,0\r\n"}, stack.sent)
}

func TestHFP_CallActiveFromIdleIsInvalid(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	assert.Equal(t, InvalidState, p.CallActive())
	assert.Empty(t, stack.sent)
}

func TestHFP_StateAdvancesWhenSignalingFails(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)
	stack.sendErr = ErrStackTransport

	assert.Equal(t, TransportError, p.InitializeCall())
	assert.Equal(t, CallIncoming, p.CallState())

	stack.sendErr = nil
	assert.Equal(t, Success, p.CallActive())
	assert.Equal(t, CallActive, p.CallState())
}

func TestHFP_NotConnectedStillTracksState(t *testing.T) {
	stack := &fakeStack{}
	p := NewHFP(stack, WithResources(&Resources{}))
	require.Equal(t, Success, p.Init())

	assert.Equal(t, NotConnected, p.SetSignalStrength(9))
	assert.Equal(t, NotConnected, p.InitializeCall())
	assert.Equal(t, CallIncoming, p.CallState())
	assert.Empty(t, stack.sent)
}

func TestHFP_Indicators(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	require.Equal(t, Success, p.SetSignalStrength(9))
	require.Equal(t, Success, p.SetSignalStrength(-1))
	require.Equal(t, Success, p.SetBatteryLevel(BatteryLevel{Percent: 75}))
	require.Equal(t, Success, p.SetNetworkRegistrationStatus(true))
	require.Equal(t, Success, p.SetRoamingStatus(true))
	require.Equal(t, Success, p.SetOperatorName("T-Mobile"))

	assert.Equal(t, []string{
		"\r\n+CIEV: 5,5\r\n",
		"\r\n+CIEV: 5,0\r\n",
		"\r\n+CIEV: 7,4\r\n",
		"\r\n+CIEV: 1,1\r\n",
		"\r\n+CIEV: 6,1\r\n",
	}, stack.sent)
}

func TestHFP_HandleCommand(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)
	require.Equal(t, Success, p.SetOperatorName("T-Mobile"))
	require.Equal(t, Success, p.SetNetworkRegistrationStatus(true))
	require.Equal(t, Success, p.SetSignalStrength(4))
	require.Equal(t, Success, p.CallStarted("5551234"))
	stack.sent = nil

	require.Equal(t, Success, p.HandleCommand("at+cops?"))
	require.Equal(t, Success, p.HandleCommand("AT+CIND?"))
	require.Equal(t, Success, p.HandleCommand("AT+BOGUS"))

	assert.Equal(t, []string{
		"\r\n+COPS: 0,0,\"T-Mobile\"\r\n",
		"\r\nOK\r\n",
		"\r\n+CIND: 1,0,2,0,4,0,0\r\n",
		"\r\nOK\r\n",
		"\r\nERROR\r\n",
	}, stack.sent)
}

func TestHFP_ServiceLevelHandshake(t *testing.T) {
	stack := &fakeStack{}
	p := NewHFP(stack, WithResources(&Resources{}))
	require.Equal(t, Success, p.Init())
	p.SetDevice(testDevice)
	p.SetOwnerService(ownerStub("ServiceBluetooth"))
	require.Equal(t, Success, p.Connect())

	for _, command := range []string{"AT+BRSF=191", "AT+CIND=?", "AT+CIND?", "AT+CMER=3,0,0,1", "AT+CHLD=?", "AT+BAC=1,2"} {
		require.Equal(t, Success, p.HandleCommand(command), command)
	}

	assert.Equal(t, []string{
		fmt.Sprintf("\r\n+BRSF: %d\r\n", AGFeatures),
		"\r\nOK\r\n",
		"\r\n" + cindSupported + "\r\n",
		"\r\nOK\r\n",
		"\r\n+CIND: 0,0,0,0,0,0,0\r\n",
		"\r\nOK\r\n",
		"\r\nOK\r\n",
		"\r\n+CHLD: (0,1,2)\r\n",
		"\r\nOK\r\n",
		"\r\nOK\r\n",
	}, stack.sent)

	features, reporting := p.ServiceLevel()
	assert.Equal(t, 191, features)
	assert.True(t, reporting)
}

func TestHFP_IndicatorsWaitForEventReporting(t *testing.T) {
	stack := &fakeStack{}
	p := NewHFP(stack, WithResources(&Resources{}))
	require.Equal(t, Success, p.Init())
	p.SetDevice(testDevice)
	p.SetOwnerService(ownerStub("ServiceBluetooth"))
	require.Equal(t, Success, p.Connect())

	require.Equal(t, Success, p.SetSignalStrength(3))
	require.Equal(t, Success, p.InitializeCall())
	require.Equal(t, Success, p.SetIncomingCallNumber("+15551234"))
	require.Equal(t, Success, p.StartRinging())
	assert.Equal(t, []string{"\r\nRING\r\n"}, stack.sent)

	stack.sent = nil
	require.Equal(t, Success, p.HandleCommand("AT+CIND?"))
	assert.Equal(t, []string{"\r\n+CIND: 0,0,1,0,3,0,0\r\n", "\r\nOK\r\n"}, stack.sent)

	stack.sent = nil
	require.Equal(t, Success, p.HandleCommand("AT+CMER=3,0,0,1"))
	require.Equal(t, Success, p.SetSignalStrength(4))
	assert.Equal(t, []string{"\r\nOK\r\n", "\r\n+CIEV: 5,4\r\n"}, stack.sent)

	stack.sent = nil
	require.Equal(t, Success, p.HandleCommand("AT+CMER=3,0,0,0"))
	require.Equal(t, Success, p.SetSignalStrength(2))
	assert.Equal(t, []string{"\r\nOK\r\n"}, stack.sent)
}

func TestHFP_DisconnectResetsServiceLevel(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	require.Equal(t, Success, p.Disconnect())
	require.Equal(t, Success, p.Connect())
	stack.sent = nil

	features, reporting := p.ServiceLevel()
	assert.Zero(t, features)
	assert.False(t, reporting)
	require.Equal(t, Success, p.SetRoamingStatus(true))
	assert.Empty(t, stack.sent)
}

func TestHFP_MalformedServiceLevelCommands(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	require.Equal(t, Success, p.HandleCommand("AT+BRSF=abc"))
	require.Equal(t, Success, p.HandleCommand("AT+CMER=3"))

	assert.Equal(t, []string{"\r\nERROR\r\n", "\r\nERROR\r\n"}, stack.sent)
}

func TestHFP_RepeatedCallSetupResendsIndicator(t *testing.T) {
	stack := &fakeStack{}
	p := newConnectedHFP(t, stack)

	require.Equal(t, Success, p.InitializeCall())
	require.Equal(t, Success, p.InitializeCall())
	assert.Equal(t, CallIncoming, p.CallState())
	assert.Equal(t, InvalidState, p.CallStarted("112"))

	assert.Equal(t, []string{"\r\n+CIEV: 3,1\r\n", "\r\n+CIEV: 3,1\r\n"}, stack.sent)
}
