package eventbus

// Settings selects the bus transport. The zero value uses the in-process
// Go channel transport; enabling redis switches both publisher and
// subscriber to Redis Streams so notifications survive across processes.
type Settings struct {
	RedisEnabled bool   `yaml:"redis_enabled"`
	Addr         string `yaml:"addr"`
	Group        string `yaml:"group"`
	Consumer     string `yaml:"consumer"`
}
