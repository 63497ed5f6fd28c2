package config

import (
	"testing"

	qt "github.com/frankban/quicktest"
)

func TestLoadDefaults(t *testing.T) {
	c := qt.New(t)
	cfg, err := Load()
	c.Assert(err, qt.IsNil)

	c.Assert(cfg.RedisURI, qt.Equals, "redis://@127.0.0.1:6379")
	c.Assert(cfg.BaseWaitingTime, qt.Equals, 30)
	c.Assert(cfg.MaxResubmitAmount, qt.Equals, 10)
	c.Assert(cfg.GasMultiplier, qt.Equals, 1.2)
	c.Assert(cfg.IMAIDSuffix, qt.Equals, "js")
	c.Assert(cfg.MaxGasPriceWei().String(), qt.Equals, "1000000000000")
	c.Assert(cfg.MinPriorityFeeWei().String(), qt.Equals, "1000000000")
	c.Assert(cfg.HardReplaceStartIndex, qt.Equals, 3)
}

func TestLoadEnvOverrides(t *testing.T) {
	c := qt.New(t)
	t.Setenv("MAX_RESUBMIT_AMOUNT", "5")
	t.Setenv("IMA_ID_SUFFIX", "zz")
	t.Setenv("DISABLE_GAS_ESTIMATION", "true")
	t.Setenv("FEE_INC_PERCENT", "20")

	cfg, err := Load()
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.MaxResubmitAmount, qt.Equals, 5)
	c.Assert(cfg.IMAIDSuffix, qt.Equals, "zz")
	c.Assert(cfg.DisableGasEstimation, qt.IsTrue)
	c.Assert(cfg.FeeIncPercent, qt.Equals, 20)
}

func TestValidate(t *testing.T) {
	c := qt.New(t)
	cfg, err := Load()
	c.Assert(err, qt.IsNil)
	c.Assert(cfg.Validate(), qt.IsNotNil)

	cfg.EthPrivateKey = "b71c71a67e1177ad4e901695e1b4b9ee17ae16c6668d313eac2f96dbcda3f291"
	c.Assert(cfg.Validate(), qt.IsNil)

	cfg.EthPrivateKey = ""
	cfg.SGXURL = "https://127.0.0.1:1026"
	c.Assert(cfg.Validate(), qt.IsNil)
}
