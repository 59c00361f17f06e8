package model

import "time"

// Category は車両のカテゴリを表す。
type Category string

const (
	CategorySedan     Category = "Sedan"
	CategorySUV       Category = "SUV"
	CategoryHatchback Category = "Hatchback"
	CategoryLuxury    Category = "Luxury"
	CategoryElectric  Category = "Electric"
)

// Categories は有効なカテゴリの一覧。
var Categories = []Category{
	CategorySedan,
	CategorySUV,
	CategoryHatchback,
	CategoryLuxury,
	CategoryElectric,
}

// Valid はカテゴリが定義済みの値かどうかを返す。
func (c Category) Valid() bool {
	for _, v := range Categories {
		if c == v {
			return true
		}
	}
	return false
}

// ListingStatus は車両の貸出状態を表す。
// 遷移は available→booked（予約成立）と booked→available（予約取消）のみ。
type ListingStatus string

const (
	ListingAvailable ListingStatus = "available"
	ListingBooked    ListingStatus = "booked"
)

// Listing は掲載車両を表す。
// 永続化はバックエンドAPIが所有し、このレイヤーは契約形状のみを知る。
// JSONタグはバックエンドAPIのフィールド名に合わせる。
type Listing struct {
	ID            string        `json:"_id"`
	CarName       string        `json:"carName"`
	Description   string        `json:"description"`
	Category      Category      `json:"category"`
	RentPrice     float64       `json:"rentPrice"`
	Location      string        `json:"location"`
	Image         string        `json:"image"`
	Status        ListingStatus `json:"status"`
	ProviderName  string        `json:"providerName"`
	ProviderEmail string        `json:"providerEmail"`
	PostedAt      time.Time     `json:"postedAt"`
}

// Booking は予約レコードを表す。
// 予約時点のListing表示フィールドのスナップショットを保持する。
type Booking struct {
	ID            string        `json:"_id"`
	CarID         string        `json:"carId"`
	CarName       string        `json:"carName"`
	Description   string        `json:"description"`
	Category      Category      `json:"category"`
	RentPrice     float64       `json:"rentPrice"`
	Location      string        `json:"location"`
	Image         string        `json:"image"`
	ProviderName  string        `json:"providerName"`
	ProviderEmail string        `json:"providerEmail"`
	UserName      string        `json:"userName"`
	UserEmail     string        `json:"userEmail"`
	Status        ListingStatus `json:"status"`
	PostedAt      time.Time     `json:"postedAt"`
}

// NewBooking は車両と予約者からBookingスナップショットを作成する。
func NewBooking(car *Listing, renter *Identity) *Booking {
	return &Booking{
		CarID:         car.ID,
		CarName:       car.CarName,
		Description:   car.Description,
		Category:      car.Category,
		RentPrice:     car.RentPrice,
		Location:      car.Location,
		Image:         car.Image,
		ProviderName:  car.ProviderName,
		ProviderEmail: car.ProviderEmail,
		UserName:      renter.DisplayName,
		UserEmail:     renter.Email,
		Status:        ListingBooked,
		PostedAt:      car.PostedAt,
	}
}
