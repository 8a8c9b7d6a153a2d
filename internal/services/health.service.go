package services

type healthService struct{}

func NewHealthService() *healthService {
	return &healthService{}
}

func (s *healthService) Get() error {
	return nil
}
