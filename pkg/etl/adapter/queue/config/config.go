package config

// QueueConfig holds one queue connection (etl.adapter.queue.<name>).
type QueueConfig struct {
	Type string `yaml:"type"` // sqs or rabbitmq

	// SQS. QueueURL wins over QueueName.
	QueueURL          string `yaml:"queue_url"`
	QueueName         string `yaml:"queue_name"`
	Region            string `yaml:"region"`
	Endpoint          string `yaml:"endpoint"`
	AccessKeyID       string `yaml:"access_key_id"`
	SecretAccessKey   string `yaml:"secret_access_key"`
	WaitSeconds       int32  `yaml:"wait_seconds"`
	MaxMessages       int32  `yaml:"max_messages"`
	VisibilityTimeout int32  `yaml:"visibility_timeout"`

	// RabbitMQ. URL wins over the individual parts.
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	VHost    string `yaml:"vhost"`
	Queue    string `yaml:"queue"`
	Durable  bool   `yaml:"durable"`
	Prefetch int    `yaml:"prefetch"`
}
