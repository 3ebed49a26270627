package e2e_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/arkade-os/fee-distributor/internal/config"
	"github.com/arkade-os/fee-distributor/internal/core/domain"
	httpservice "github.com/arkade-os/fee-distributor/internal/interface/http"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

const (
	schedulerToken = "scheduler"
	transportToken = "transport"
	adminToken     = "admin"
)

var alice = common.HexToAddress("0x00000000000000000000000000000000000000d1")

type client struct {
	baseURL string
}

func (c client) do(t *testing.T, method, path, token string, body any) (int, []byte) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(buf)
	}
	req, err := http.NewRequest(method, c.baseURL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	// nolint
	defer resp.Body.Close()

	buf, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, buf
}

func (c client) state(t *testing.T) string {
	t.Helper()

	code, buf := c.do(t, http.MethodGet, "/v1/distribution/status", transportToken, nil)
	require.Equal(t, http.StatusOK, code, string(buf))

	var status struct {
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(buf, &status))
	return status.State
}

func freePort(t *testing.T) uint32 {
	t.Helper()

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := lis.Addr().(*net.TCPAddr).Port
	require.NoError(t, lis.Close())
	return uint32(port)
}

func TestDistributionCycle(t *testing.T) {
	appConfig := &config.Config{
		Datadir:              t.TempDir(),
		DbType:               "sqlite",
		DbDir:                t.TempDir(),
		EventDbType:          "gochannel",
		LedgerType:           "badger",
		LedgerDir:            t.TempDir(),
		SchedulerType:        "gocron",
		ChainType:            "simulated",
		ParamsFile:           "testdata/params.yaml",
		SimulatedBridgeFee:   "0",
		SimulatedRewardPrice: "2",
	}
	port := freePort(t)

	svc, err := httpservice.NewService(httpservice.Config{
		Port:           port,
		SchedulerToken: schedulerToken,
		TransportToken: transportToken,
		AdminToken:     adminToken,
	}, appConfig)
	require.NoError(t, err)

	params, err := config.LoadParamsFile(appConfig.ParamsFile)
	require.NoError(t, err)
	current := params.CurrentChain()
	remote, ok := params.Chain(2)
	require.True(t, ok)

	network := appConfig.Network()
	require.NoError(t, network.AccrueFees(1, current.FeeHandler, current.FeeToken, uint256.NewInt(100)))
	require.NoError(t, network.Mint(1, current.StakedToken, alice, uint256.NewInt(50)))
	require.NoError(t, network.Mint(2, remote.StakedToken, alice, uint256.NewInt(50)))

	require.NoError(t, svc.Start())
	defer svc.Stop()

	c := client{baseURL: fmt.Sprintf("http://127.0.0.1:%d", port)}
	require.Equal(t, domain.DistributionStateNone.String(), c.state(t))

	code, buf := c.do(t, http.MethodPost, "/v1/distribution/initiate", schedulerToken, nil)
	require.Equal(t, http.StatusOK, code, string(buf))
	var initiated struct {
		CycleID string `json:"cycleId"`
	}
	require.NoError(t, json.Unmarshal(buf, &initiated))
	require.NotEmpty(t, initiated.CycleID)

	// The simulated transport answers the read right away, and the surplus
	// of chain 1 is bridged out straight after.
	require.Eventually(t, func() bool {
		return c.state(t) == domain.DistributionStateBridgingCompleted.String()
	}, 5*time.Second, 50*time.Millisecond)

	settled, err := network.Settle()
	require.NoError(t, err)
	require.Equal(t, 1, settled)
	received, err := network.BalanceOf(2, remote.FeeToken, remote.FeeReceiver)
	require.NoError(t, err)
	require.Equal(t, uint64(50), received.Uint64())

	require.NoError(t, network.AccrueFees(1, current.FeeHandler, params.RewardToken, uint256.NewInt(1000)))

	code, buf = c.do(t, http.MethodPost, "/v1/distribution/distribute", transportToken, map[string]string{})
	require.Equal(t, http.StatusForbidden, code, string(buf))

	code, buf = c.do(t, http.MethodPost, "/v1/distribution/distribute", schedulerToken, map[string]string{
		"wntReferralRewardsUsd":     "100",
		"esTokenForReferralRewards": "200",
		"feesV1Usd":                 "500",
		"feesV2Usd":                 "500",
	})
	require.Equal(t, http.StatusOK, code, string(buf))
	var report struct {
		CycleID             string `json:"cycleId"`
		FeeTokenDistributed string `json:"feeTokenDistributed"`
		Buckets             struct {
			ForTreasury string `json:"forTreasury"`
			Residual    string `json:"residual"`
		} `json:"buckets"`
	}
	require.NoError(t, json.Unmarshal(buf, &report))
	require.Equal(t, initiated.CycleID, report.CycleID)
	require.Equal(t, "50", report.FeeTokenDistributed)
	require.Equal(t, "395", report.Buckets.ForTreasury)
	require.Equal(t, "425", report.Buckets.Residual)

	require.Equal(t, domain.DistributionStateNone.String(), c.state(t))

	treasury, err := network.BalanceOf(1, params.RewardToken, params.Treasury)
	require.NoError(t, err)
	require.Equal(t, uint64(395), treasury.Uint64())

	// A second cycle in the same week is rejected.
	code, buf = c.do(t, http.MethodPost, "/v1/distribution/initiate", schedulerToken, nil)
	require.Equal(t, http.StatusConflict, code, string(buf))
	var errBody struct {
		Name string `json:"name"`
	}
	require.NoError(t, json.Unmarshal(buf, &errBody))
	require.Equal(t, "FEE_DISTRIBUTION_ALREADY_COMPLETED", errBody.Name)

	code, buf = c.do(t, http.MethodGet, "/v1/admin/reports", adminToken, nil)
	require.Equal(t, http.StatusOK, code, string(buf))
	var reports struct {
		Reports []struct {
			CycleID string `json:"cycleId"`
		} `json:"reports"`
	}
	require.NoError(t, json.Unmarshal(buf, &reports))
	require.Len(t, reports.Reports, 1)
	require.Equal(t, initiated.CycleID, reports.Reports[0].CycleID)

	code, buf = c.do(
		t, http.MethodGet, "/v1/admin/reports/"+initiated.CycleID, adminToken, nil,
	)
	require.Equal(t, http.StatusOK, code, string(buf))
}
