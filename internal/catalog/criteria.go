package catalog

import "sort"

// Tristate distinguishes "explicitly true", "explicitly false", and "not
// mentioned". Absence of a keyword means Unknown, not False; the distinction
// must survive until merge.
type Tristate uint8

// Tristate values. The zero value is Unknown.
const (
	Unknown Tristate = iota
	False
	True
)

// String implements fmt.Stringer.
func (t Tristate) String() string {
	switch t {
	case True:
		return "true"
	case False:
		return "false"
	default:
		return "unknown"
	}
}

// FlagCategory groups criteria flags for matching.
type FlagCategory string

// Criteria flag categories.
const (
	CategoryFarmType       FlagCategory = "farm_type"
	CategoryFarmerStatus   FlagCategory = "farmer_status"
	CategoryAssistanceType FlagCategory = "assistance_type"
	CategorySituation      FlagCategory = "situation"
	CategoryCommodity      FlagCategory = "commodity"
)

// CriteriaFlag names one eligibility attribute in the enumerated vocabulary.
type CriteriaFlag string

// Farm type and operation flags.
const (
	FlagCropFarming          CriteriaFlag = "crop_farming"
	FlagLivestock            CriteriaFlag = "livestock"
	FlagDairy                CriteriaFlag = "dairy"
	FlagOrganic              CriteriaFlag = "organic"
	FlagSpecialtyCrops       CriteriaFlag = "specialty_crops"
	FlagLivestockBeefCattle  CriteriaFlag = "livestock_beef_cattle"
	FlagLivestockDairyCattle CriteriaFlag = "livestock_dairy_cattle"
	FlagLivestockHogs        CriteriaFlag = "livestock_hogs"
	FlagLivestockPoultry     CriteriaFlag = "livestock_poultry"
	FlagLivestockSheepGoats  CriteriaFlag = "livestock_sheep_goats"
	FlagLivestockBees        CriteriaFlag = "livestock_bees"
	FlagLivestockAquaculture CriteriaFlag = "livestock_aquaculture"
	FlagSpecialtyFruits      CriteriaFlag = "specialty_crop_fruits"
	FlagSpecialtyVegetables  CriteriaFlag = "specialty_crop_vegetables"
	FlagSpecialtyNuts        CriteriaFlag = "specialty_crop_nuts"
	FlagSpecialtyNursery     CriteriaFlag = "specialty_crop_nursery"
	FlagForageHay            CriteriaFlag = "forage_hay"
	FlagForestry             CriteriaFlag = "forestry"
)

// Farmer status flags.
const (
	FlagBeginningFarmer       CriteriaFlag = "beginning_farmer"
	FlagVeteran               CriteriaFlag = "veteran"
	FlagYoungFarmer           CriteriaFlag = "young_farmer"
	FlagSociallyDisadvantaged CriteriaFlag = "socially_disadvantaged"
)

// Assistance type flags.
const (
	FlagIsLoan         CriteriaFlag = "is_loan"
	FlagIsInsurance    CriteriaFlag = "is_insurance"
	FlagIsPayment      CriteriaFlag = "is_payment"
	FlagIsConservation CriteriaFlag = "is_conservation"
	FlagIsDisaster     CriteriaFlag = "is_disaster"
)

// Situation flags.
const (
	FlagPriceLoss         CriteriaFlag = "for_price_loss"
	FlagYieldLoss         CriteriaFlag = "for_yield_loss"
	FlagForageLoss        CriteriaFlag = "for_forage_loss"
	FlagTreeLoss          CriteriaFlag = "for_tree_loss"
	FlagEquipment         CriteriaFlag = "for_equipment"
	FlagStorage           CriteriaFlag = "for_storage"
	FlagLandPurchase      CriteriaFlag = "for_land_purchase"
	FlagRequiresOwnership CriteriaFlag = "requires_ownership"
	FlagAllowsTenants     CriteriaFlag = "allows_tenants"
)

// Commodity flags.
const (
	FlagCropWheat     CriteriaFlag = "crop_wheat"
	FlagCropCorn      CriteriaFlag = "crop_corn"
	FlagCropSoybeans  CriteriaFlag = "crop_soybeans"
	FlagCropCotton    CriteriaFlag = "crop_cotton"
	FlagCropRice      CriteriaFlag = "crop_rice"
	FlagCropBarley    CriteriaFlag = "crop_barley"
	FlagCropSorghum   CriteriaFlag = "crop_sorghum"
	FlagCropOats      CriteriaFlag = "crop_oats"
	FlagCropCanola    CriteriaFlag = "crop_canola"
	FlagCropSunflower CriteriaFlag = "crop_sunflower"
	FlagCropPeanuts   CriteriaFlag = "crop_peanuts"
	FlagCropSugar     CriteriaFlag = "crop_sugar"
	FlagCropDryBeans  CriteriaFlag = "crop_dry_beans"
)

// Vocabulary maps every known flag to its category.
var Vocabulary = map[CriteriaFlag]FlagCategory{
	FlagCropFarming:          CategoryFarmType,
	FlagLivestock:            CategoryFarmType,
	FlagDairy:                CategoryFarmType,
	FlagOrganic:              CategoryFarmType,
	FlagSpecialtyCrops:       CategoryFarmType,
	FlagLivestockBeefCattle:  CategoryFarmType,
	FlagLivestockDairyCattle: CategoryFarmType,
	FlagLivestockHogs:        CategoryFarmType,
	FlagLivestockPoultry:     CategoryFarmType,
	FlagLivestockSheepGoats:  CategoryFarmType,
	FlagLivestockBees:        CategoryFarmType,
	FlagLivestockAquaculture: CategoryFarmType,
	FlagSpecialtyFruits:      CategoryFarmType,
	FlagSpecialtyVegetables:  CategoryFarmType,
	FlagSpecialtyNuts:        CategoryFarmType,
	FlagSpecialtyNursery:     CategoryFarmType,
	FlagForageHay:            CategoryFarmType,
	FlagForestry:             CategoryFarmType,

	FlagBeginningFarmer:       CategoryFarmerStatus,
	FlagVeteran:               CategoryFarmerStatus,
	FlagYoungFarmer:           CategoryFarmerStatus,
	FlagSociallyDisadvantaged: CategoryFarmerStatus,

	FlagIsLoan:         CategoryAssistanceType,
	FlagIsInsurance:    CategoryAssistanceType,
	FlagIsPayment:      CategoryAssistanceType,
	FlagIsConservation: CategoryAssistanceType,
	FlagIsDisaster:     CategoryAssistanceType,

	FlagPriceLoss:         CategorySituation,
	FlagYieldLoss:         CategorySituation,
	FlagForageLoss:        CategorySituation,
	FlagTreeLoss:          CategorySituation,
	FlagEquipment:         CategorySituation,
	FlagStorage:           CategorySituation,
	FlagLandPurchase:      CategorySituation,
	FlagRequiresOwnership: CategorySituation,
	FlagAllowsTenants:     CategorySituation,

	FlagCropWheat:     CategoryCommodity,
	FlagCropCorn:      CategoryCommodity,
	FlagCropSoybeans:  CategoryCommodity,
	FlagCropCotton:    CategoryCommodity,
	FlagCropRice:      CategoryCommodity,
	FlagCropBarley:    CategoryCommodity,
	FlagCropSorghum:   CategoryCommodity,
	FlagCropOats:      CategoryCommodity,
	FlagCropCanola:    CategoryCommodity,
	FlagCropSunflower: CategoryCommodity,
	FlagCropPeanuts:   CategoryCommodity,
	FlagCropSugar:     CategoryCommodity,
	FlagCropDryBeans:  CategoryCommodity,
}

// CriteriaSet holds the tri-state value per flag. Flags absent from the map
// are Unknown.
type CriteriaSet map[CriteriaFlag]Tristate

// Get returns the flag value, Unknown when unset.
func (s CriteriaSet) Get(flag CriteriaFlag) Tristate {
	if s == nil {
		return Unknown
	}
	return s[flag]
}

// KnownTrue returns the flags explicitly set to True, sorted for determinism.
func (s CriteriaSet) KnownTrue() []CriteriaFlag {
	flags := make([]CriteriaFlag, 0, len(s))
	for flag, v := range s {
		if v == True {
			flags = append(flags, flag)
		}
	}
	sort.Slice(flags, func(i, j int) bool { return flags[i] < flags[j] })
	return flags
}

// Clone returns an independent copy of the set.
func (s CriteriaSet) Clone() CriteriaSet {
	if s == nil {
		return nil
	}
	out := make(CriteriaSet, len(s))
	for flag, v := range s {
		out[flag] = v
	}
	return out
}

// ValidFlag reports whether the flag belongs to the enumerated vocabulary.
func ValidFlag(flag CriteriaFlag) bool {
	_, ok := Vocabulary[flag]
	return ok
}
