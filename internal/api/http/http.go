package http

type Config struct {
	Port        uint   `mapstructure:"port"`
	AdminAPIKey string `mapstructure:"admin_api_key"`
	JWTSecret   string `mapstructure:"jwt_secret"`
}
