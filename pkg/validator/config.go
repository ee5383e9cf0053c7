package validator

// Config 校验限制
// 零值字段在 New 时使用默认值
type Config struct {
	MaxTextLength     int    `mapstructure:"max_text_length"`     // 文本最大字符数（按 rune 计）
	MaxBinarySize     int    `mapstructure:"max_binary_size"`     // 二进制帧最大字节数
	MaxJSONSize       int    `mapstructure:"max_json_size"`       // JSON 序列化后最大字节数
	MaxJSONDepth      int    `mapstructure:"max_json_depth"`      // JSON 最大嵌套层数
	MaxArrayLength    int    `mapstructure:"max_array_length"`    // 单个数组最大元素数
	MaxObjectProps    int    `mapstructure:"max_object_props"`    // 单个对象最大属性数
	MaxRoomIDLength   int    `mapstructure:"max_room_id_length"`  // 房间 ID 最大长度
	RoomIDPattern     string `mapstructure:"room_id_pattern"`     // 房间 ID 允许的字符
	MaxUsernameLength int    `mapstructure:"max_username_length"` // 用户名最大长度
	UsernamePattern   string `mapstructure:"username_pattern"`    // 用户名允许的字符
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		MaxTextLength:     1000,
		MaxBinarySize:     64 << 10, // 64KB
		MaxJSONSize:       16 << 10, // 16KB
		MaxJSONDepth:      8,
		MaxArrayLength:    100,
		MaxObjectProps:    50,
		MaxRoomIDLength:   50,
		RoomIDPattern:     `^[a-zA-Z0-9_-]+$`,
		MaxUsernameLength: 50,
		UsernamePattern:   `^[a-zA-Z0-9_.@-]+$`,
	}
}

// withDefaults 用默认值填充零值字段
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.MaxTextLength <= 0 {
		c.MaxTextLength = d.MaxTextLength
	}
	if c.MaxBinarySize <= 0 {
		c.MaxBinarySize = d.MaxBinarySize
	}
	if c.MaxJSONSize <= 0 {
		c.MaxJSONSize = d.MaxJSONSize
	}
	if c.MaxJSONDepth <= 0 {
		c.MaxJSONDepth = d.MaxJSONDepth
	}
	if c.MaxArrayLength <= 0 {
		c.MaxArrayLength = d.MaxArrayLength
	}
	if c.MaxObjectProps <= 0 {
		c.MaxObjectProps = d.MaxObjectProps
	}
	if c.MaxRoomIDLength <= 0 {
		c.MaxRoomIDLength = d.MaxRoomIDLength
	}
	if c.RoomIDPattern == "" {
		c.RoomIDPattern = d.RoomIDPattern
	}
	if c.MaxUsernameLength <= 0 {
		c.MaxUsernameLength = d.MaxUsernameLength
	}
	if c.UsernamePattern == "" {
		c.UsernamePattern = d.UsernamePattern
	}
	return c
}
