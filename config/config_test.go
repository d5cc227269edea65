package config_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ddevcap/rpc-proxy/config"
)

var _ = Describe("Load", func() {
	writeFile := func(contents string) string {
		path := filepath.Join(GinkgoT().TempDir(), "config.yaml")
		Expect(os.WriteFile(path, []byte(contents), 0o600)).To(Succeed())
		return path
	}

	It("loads a full configuration", func() {
		path := writeFile(`
port: 8545
api_keys: ["k1", "k2"]
backends:
  - label: a
    url: http://a.test/
    weight: 3
  - label: b
    url: https://b.test
    weight: 1
method_routes:
  getBlock: b
health_check:
  interval_secs: 10
  timeout_secs: 2
  method: getVersion
  consecutive_failures_threshold: 5
  consecutive_successes_threshold: 3
proxy:
  timeout_secs: 20
`)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Port).To(Equal(uint16(8545)))
		Expect(cfg.APIKeys).To(Equal([]string{"k1", "k2"}))
		Expect(cfg.Backends).To(HaveLen(2))
		Expect(cfg.Backends[0].Label).To(Equal("a"))
		Expect(cfg.Backends[0].Weight).To(Equal(3))
		Expect(cfg.MethodRoutes).To(HaveKeyWithValue("getBlock", "b"))
		Expect(cfg.HealthCheck.IntervalSecs).To(Equal(uint64(10)))
		Expect(cfg.HealthCheck.Method).To(Equal("getVersion"))
		Expect(cfg.Proxy.TimeoutSecs).To(Equal(uint64(20)))
	})

	It("applies documented defaults when optional sections are omitted", func() {
		path := writeFile(`
port: 8545
api_keys: ["k"]
backends:
  - label: a
    url: http://a.test
    weight: 1
`)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.HealthCheck.IntervalSecs).To(Equal(uint64(30)))
		Expect(cfg.HealthCheck.TimeoutSecs).To(Equal(uint64(5)))
		Expect(cfg.HealthCheck.Method).To(Equal("getSlot"))
		Expect(cfg.HealthCheck.ConsecutiveFailuresThreshold).To(Equal(3))
		Expect(cfg.HealthCheck.ConsecutiveSuccessesThreshold).To(Equal(2))
		Expect(cfg.Proxy.TimeoutSecs).To(Equal(uint64(30)))
	})

	It("lets the environment override scalar settings", func() {
		GinkgoT().Setenv("PORT", "9000")
		GinkgoT().Setenv("HEALTH_CHECK_METHOD", "getHealth")
		path := writeFile(`
port: 8545
api_keys: ["k"]
backends:
  - label: a
    url: http://a.test
    weight: 1
`)
		cfg, err := config.Load(path)
		Expect(err).NotTo(HaveOccurred())
		Expect(cfg.Port).To(Equal(uint16(9000)))
		Expect(cfg.HealthCheck.Method).To(Equal("getHealth"))
	})

	It("fails when the file does not exist", func() {
		_, err := config.Load(filepath.Join(GinkgoT().TempDir(), "missing.yaml"))
		Expect(err).To(HaveOccurred())
	})

	It("fails on malformed YAML", func() {
		path := writeFile("port: [not a port")
		_, err := config.Load(path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Validate", func() {
	valid := func() config.Config {
		cfg := config.Defaults()
		cfg.Port = 8545
		cfg.APIKeys = []string{"k"}
		cfg.Backends = []config.Backend{
			{Label: "a", URL: "http://a.test", Weight: 1},
			{Label: "b", URL: "http://b.test", Weight: 2},
		}
		return cfg
	}

	It("accepts a valid configuration", func() {
		Expect(valid().Validate()).To(Succeed())
	})

	It("rejects an empty API key set", func() {
		cfg := valid()
		cfg.APIKeys = nil
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("API key")))
	})

	It("rejects an empty backend pool", func() {
		cfg := valid()
		cfg.Backends = nil
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("backend")))
	})

	It("rejects duplicate labels", func() {
		cfg := valid()
		cfg.Backends[1].Label = "a"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("duplicate")))
	})

	It("rejects an empty label", func() {
		cfg := valid()
		cfg.Backends[0].Label = ""
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("empty label")))
	})

	It("rejects a non-positive weight", func() {
		cfg := valid()
		cfg.Backends[0].Weight = 0
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("weight")))
	})

	It("rejects a relative backend URL", func() {
		cfg := valid()
		cfg.Backends[0].URL = "/not-absolute"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("invalid URL")))
	})

	It("rejects a non-http scheme", func() {
		cfg := valid()
		cfg.Backends[0].URL = "ftp://a.test"
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("invalid URL")))
	})

	It("rejects method routes referencing unknown labels", func() {
		cfg := valid()
		cfg.MethodRoutes = map[string]string{"getBlock": "nope"}
		Expect(cfg.Validate()).To(MatchError(ContainSubstring("unknown backend label")))
	})

	It("rejects zero timeouts and thresholds", func() {
		cfg := valid()
		cfg.HealthCheck.IntervalSecs = 0
		Expect(cfg.Validate()).NotTo(Succeed())

		cfg = valid()
		cfg.HealthCheck.ConsecutiveFailuresThreshold = 0
		Expect(cfg.Validate()).NotTo(Succeed())

		cfg = valid()
		cfg.Proxy.TimeoutSecs = 0
		Expect(cfg.Validate()).NotTo(Succeed())
	})
})
